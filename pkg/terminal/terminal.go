package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/deet-dbg/deet/pkg/config"
	"github.com/deet-dbg/deet/pkg/logflags"
)

const historyFile string = ".deet_history"

// Term represents the terminal running deet.
type Term struct {
	conf      *config.Config
	prompt    string
	line      *liner.State
	cmds      *Commands
	stdout    io.Writer
	stderr    io.Writer
	color     bool
	functions *trie.Trie
	log       logflags.Logger
}

// New returns a new Term. functions are the names offered when
// completing the argument of the break command.
func New(d Debugger, conf *config.Config, functions []string) *Term {
	cmds := DebugCommands(d)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	if conf == nil {
		conf = &config.Config{}
	}
	stderr, color := colorStderr()
	return &Term{
		conf:      conf,
		prompt:    "(deet) ",
		line:      liner.NewLiner(),
		cmds:      cmds,
		stdout:    Output(),
		stderr:    stderr,
		color:     color,
		functions: newFunctionIndex(functions),
		log:       logflags.TerminalLogger(),
	}
}

func newFunctionIndex(functions []string) *trie.Trie {
	idx := trie.New()
	for _, fn := range functions {
		idx.Add(fn, nil)
	}
	return idx
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// sigintGuard keeps deet alive when Ctrl-C is pressed while the program
// runs. The program shares our process group, it receives the signal and
// stops.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.log.Debug("received SIGINT")
	}
}

// Run begins running deet in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCtrlCAborts(true)
	t.line.SetWordCompleter(t.complete)
	t.loadHistory()

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			switch err {
			case io.EOF:
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			case liner.ErrPromptAborted:
				fmt.Fprintln(t.stdout, `Type "quit" to exit`)
				continue
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.call(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
		}
	}
}

// call executes cmdstr and prints the error it returns, if any.
func (t *Term) call(cmdstr string) error {
	if logflags.Terminal() {
		t.log.Debugf("command %q", cmdstr)
	}
	err := t.cmds.Call(cmdstr, t)
	if err == nil {
		return nil
	}
	if _, ok := err.(ExitRequestError); ok {
		return err
	}
	t.printError(err)
	return err
}

func (t *Term) printError(err error) {
	msg := fmt.Sprintf("Command failed: %s", err)
	if err == errUnrecognizedCommand {
		msg = err.Error()
	}
	if t.color {
		msg = fmt.Sprintf(terminalHighlightEscapeCode, ansiRed) + msg + terminalResetEscapeCode
	}
	fmt.Fprintln(t.stderr, msg)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// complete completes command names and the function name argument of
// break.
func (t *Term) complete(line string, pos int) (head string, completions []string, tail string) {
	head, tail = line[:pos], line[pos:]
	fields := strings.SplitN(head, " ", 2)
	if len(fields) == 1 {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(head)) {
					completions = append(completions, alias)
				}
			}
		}
		sort.Strings(completions)
		return "", completions, tail
	}
	cmd := t.cmds.lookup(fields[0])
	if cmd == nil || cmd.aliases[0] != "break" || t.functions == nil {
		return head, nil, tail
	}
	word := strings.TrimLeft(fields[1], " ")
	if word == "" {
		return head, nil, tail
	}
	completions = t.functions.PrefixSearch(word)
	sort.Strings(completions)
	return head[:len(head)-len(word)], completions, tail
}

func (t *Term) loadHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stderr, "Unable to load history file: %v.\n", err)
		return
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}
	t.line.ReadHistory(f)
	f.Close()
}

func (t *Term) saveHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	defer f.Close()
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Fprintln(t.stderr, "readline history error:", err)
	}
}

func (t *Term) handleExit() (int, error) {
	t.saveHistory()
	if err := t.cmds.debugger.Quit(); err != nil {
		return 1, err
	}
	return 0, nil
}
