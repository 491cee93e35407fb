package cmds

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deet-dbg/deet/cmd/deet/cmds/helphelpers"
	"github.com/deet-dbg/deet/pkg/bininfo"
	"github.com/deet-dbg/deet/pkg/config"
	"github.com/deet-dbg/deet/pkg/debugger"
	"github.com/deet-dbg/deet/pkg/logflags"
	"github.com/deet-dbg/deet/pkg/terminal"
	"github.com/deet-dbg/deet/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string
	// disableASLR launches the program without address space randomization.
	disableASLR bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const deetCommandLongDesc = `deet is a source level debugger for native programs.

deet launches the program under ptrace and lets you stop it at breakpoints
set by address, source line or function name, continue it past them and
print the call stack.

The program must be built with debug information and frame pointers, for
example:

	cc -g -O0 -fno-omit-frame-pointer -no-pie -o prog prog.c

Pass flags to the program you are debugging with the run command:

	(deet) run -arg1 "second argument"
`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load configuration: %v\n", err)
	}

	// Main deet root command.
	rootCommand = &cobra.Command{
		Use:   "deet [flags] <executable>",
		Short: "deet is a debugger for native programs.",
		Long:  deetCommandLongDesc,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0], conf))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'deet help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'deet help log').")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	rootCommand.PersistentFlags().BoolVar(&disableASLR, "disable-aslr", conf.ASLRDisabled(), "Run the program with address space randomization disabled.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deet Debugger\n%s\n", version.DeetVersion)
			if log {
				fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	debugger	Log debugger commands
	proc		Log ptrace requests and wait results
	bininfo		Log symbol table loading
	terminal	Log the commands read by the terminal

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

func findExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func execute(executable string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	path, err := findExecutable(executable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not find executable: %v\n", err)
		return 1
	}
	bi, err := bininfo.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load %s: %v\n", path, err)
		return 1
	}
	defer bi.Close()

	d := debugger.New(&debugger.Config{
		Executable:        path,
		WorkingDir:        workingDir,
		DisableASLR:       disableASLR,
		MaxBacktraceDepth: conf.BacktraceDepth(),
		SubstitutePath:    conf.Substitute,
		Stdout:            terminal.Output(),
	}, bi)

	term := terminal.New(d, conf, bi.FunctionNames())
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
