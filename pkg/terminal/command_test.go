package terminal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deet-dbg/deet/pkg/debugger"
)

type fakeDebugger struct {
	calls  []string
	specs  []string
	args   [][]string
	err    error
	bpByID int
}

func (d *fakeDebugger) Break(spec string) (*debugger.Breakpoint, error) {
	d.calls = append(d.calls, "break")
	d.specs = append(d.specs, spec)
	if d.err != nil {
		return nil, d.err
	}
	d.bpByID++
	return &debugger.Breakpoint{ID: d.bpByID}, nil
}

func (d *fakeDebugger) Run(args []string) error {
	d.calls = append(d.calls, "run")
	d.args = append(d.args, args)
	return d.err
}

func (d *fakeDebugger) Continue() error {
	d.calls = append(d.calls, "continue")
	return d.err
}

func (d *fakeDebugger) Backtrace() error {
	d.calls = append(d.calls, "backtrace")
	return d.err
}

func (d *fakeDebugger) Quit() error {
	d.calls = append(d.calls, "quit")
	return nil
}

type FakeTerminal struct {
	*Term
	debugger *fakeDebugger
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

func newFakeTerminal(t *testing.T, aliases map[string][]string, functions ...string) *FakeTerminal {
	t.Helper()
	d := &fakeDebugger{}
	cmds := DebugCommands(d)
	if aliases != nil {
		cmds.Merge(aliases)
	}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return &FakeTerminal{
		Term: &Term{
			prompt:    "(deet) ",
			cmds:      cmds,
			stdout:    stdout,
			stderr:    stderr,
			functions: newFunctionIndex(functions),
		},
		debugger: d,
		stdout:   stdout,
		stderr:   stderr,
	}
}

func (ft *FakeTerminal) Exec(cmdstr string) error {
	return ft.cmds.Call(cmdstr, ft.Term)
}

func TestCommandAliases(t *testing.T) {
	for _, tc := range []struct {
		input string
		call  string
	}{
		{"q", "quit"},
		{"quit", "quit"},
		{"c", "continue"},
		{"cont", "continue"},
		{"continue", "continue"},
		{"bt", "backtrace"},
		{"back", "backtrace"},
		{"backtrace", "backtrace"},
		{"b main", "break"},
		{"break main", "break"},
		{"r", "run"},
		{"run", "run"},
	} {
		ft := newFakeTerminal(t, nil)
		err := ft.Exec(tc.input)
		if tc.call == "quit" {
			assert.Equal(t, ExitRequestError{}, err, tc.input)
			assert.Empty(t, ft.debugger.calls)
			continue
		}
		require.NoError(t, err, tc.input)
		assert.Equal(t, []string{tc.call}, ft.debugger.calls, tc.input)
	}
}

func TestBreakArgument(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	require.NoError(t, ft.Exec("  break   *0x401126  "))
	require.NoError(t, ft.Exec("b nested.c:12"))
	assert.Equal(t, []string{"*0x401126", "nested.c:12"}, ft.debugger.specs)

	assert.Error(t, ft.Exec("break"))
	assert.Error(t, ft.Exec("b   "))
	assert.Len(t, ft.debugger.specs, 2)
}

func TestRunArguments(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	require.NoError(t, ft.Exec("run"))
	require.NoError(t, ft.Exec(`r a "b c" 'd e'`))
	require.Len(t, ft.debugger.args, 2)
	assert.Empty(t, ft.debugger.args[0])
	assert.Equal(t, []string{"a", "b c", "d e"}, ft.debugger.args[1])

	assert.Error(t, ft.Exec("run `date`"))
	assert.Error(t, ft.Exec("run a | b"))
	assert.Len(t, ft.debugger.args, 2)
}

func TestUnknownAndEmptyCommands(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	assert.NoError(t, ft.Exec(""))
	assert.NoError(t, ft.Exec("   "))
	assert.Equal(t, errUnrecognizedCommand, ft.Exec("frobnicate"))
	assert.Equal(t, errUnrecognizedCommand, ft.Exec("breakpoints"))
	assert.Empty(t, ft.debugger.calls)
}

func TestCallPrintsErrors(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.call("frobnicate")
	assert.Equal(t, "Unrecognized command.\n", ft.stderr.String())

	ft.stderr.Reset()
	ft.debugger.err = debugger.ErrProcessNotRunning
	err := ft.call("continue")
	assert.Equal(t, debugger.ErrProcessNotRunning, err)
	assert.Equal(t, "Command failed: process not running\n", ft.stderr.String())

	ft.stderr.Reset()
	assert.Equal(t, ExitRequestError{}, ft.call("quit"))
	assert.Empty(t, ft.stderr.String())
}

func TestConfigAliases(t *testing.T) {
	ft := newFakeTerminal(t, map[string][]string{"continue": {"go"}, "break": {"stop"}})
	require.NoError(t, ft.Exec("go"))
	require.NoError(t, ft.Exec("stop main"))
	require.NoError(t, ft.Exec("c"))
	assert.Equal(t, []string{"continue", "break", "continue"}, ft.debugger.calls)

	// merging again replaces the configured aliases
	ft.cmds.Merge(map[string][]string{"continue": {"resume"}})
	assert.Equal(t, errUnrecognizedCommand, ft.Exec("go"))
	require.NoError(t, ft.Exec("resume"))
}

func TestHelp(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	require.NoError(t, ft.Exec("help"))
	out := ft.stdout.String()
	for _, cmd := range []string{"break (alias: b)", "backtrace (alias: bt | back)", "continue (alias: c | cont)", "quit (alias: q)", "run (alias: r)"} {
		assert.Contains(t, out, cmd)
	}

	ft.stdout.Reset()
	require.NoError(t, ft.Exec("h b"))
	assert.Contains(t, ft.stdout.String(), "break <location>")

	assert.Equal(t, errUnrecognizedCommand, ft.Exec("help frobnicate"))
}

func TestComplete(t *testing.T) {
	ft := newFakeTerminal(t, nil, "main", "foo", "foobar", "bar")

	head, completions, tail := ft.complete("co", 2)
	assert.Equal(t, "", head)
	assert.Equal(t, []string{"cont", "continue"}, completions)
	assert.Equal(t, "", tail)

	head, completions, _ = ft.complete("break fo", 8)
	assert.Equal(t, "break ", head)
	assert.Equal(t, []string{"foo", "foobar"}, completions)

	head, completions, _ = ft.complete("b  ma", 5)
	assert.Equal(t, "b  ", head)
	assert.Equal(t, []string{"main"}, completions)

	_, completions, _ = ft.complete("run fo", 6)
	assert.Empty(t, completions)
}

func TestParseArgvErrors(t *testing.T) {
	_, err := parseArgv(`a "b`)
	assert.Error(t, err)
	v, err := parseArgv("")
	assert.NoError(t, err)
	assert.Nil(t, v)
}
