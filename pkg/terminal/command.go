// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/deet-dbg/deet/pkg/debugger"
)

// Debugger is the debugging session driven by the terminal.
type Debugger interface {
	Break(spec string) (*debugger.Breakpoint, error)
	Run(args []string) error
	Continue() error
	Backtrace() error
	Quit() error
}

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the deet terminal.
type Commands struct {
	cmds     []command
	debugger Debugger
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(d Debugger) *Commands {
	c := &Commands{debugger: d}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <location>

Locations:

	*<address>      hexadecimal address, e.g. *0x401126
	<line>          line of the program's source file
	<file>:<line>   line of the given source file
	<function>      first line of the function's body

Breakpoints set before the program is started are installed when it is.`},
		{aliases: []string{"run", "r"}, cmdFn: run, helpMsg: `Starts the program, killing it first if it is running.

	run [arguments...]

Arguments are split the way a shell would split them.`},
		{aliases: []string{"continue", "c", "cont"}, cmdFn: cont, helpMsg: "Run until breakpoint or program termination."},
		{aliases: []string{"backtrace", "bt", "back"}, cmdFn: backtrace, helpMsg: "Print the call stack of the stopped program, innermost frame first."},
		{aliases: []string{"quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger, killing the running program."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

func (c *Commands) lookup(cmdstr string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// An empty command does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if cmd := c.lookup(cmdstr); cmd != nil {
		return cmd.cmdFn
	}
	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errUnrecognizedCommand = errors.New("Unrecognized command.")

func noCmdAvailable(t *Term, args string) error {
	return errUnrecognizedCommand
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		if cmd := c.lookup(args); cmd != nil {
			fmt.Fprintln(t.stdout, cmd.helpMsg)
			return nil
		}
		return errUnrecognizedCommand
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return errors.New("not enough arguments: break <location>")
	}
	_, err := t.cmds.debugger.Break(args)
	return err
}

func run(t *Term, args string) error {
	cmdArgs, err := parseArgv(args)
	if err != nil {
		return err
	}
	return t.cmds.debugger.Run(cmdArgs)
}

func cont(t *Term, args string) error {
	return t.cmds.debugger.Continue()
}

func backtrace(t *Term, args string) error {
	return t.cmds.debugger.Backtrace()
}

// parseArgv splits the arguments of the run command like a shell would.
func parseArgv(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

// ExitRequestError is returned when the user
// exits deet.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}
