package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiRed = 31
)

func isDumb() bool {
	return strings.ToLower(os.Getenv("TERM")) == "dumb"
}

// Output returns the writer the terminal and the debugging session print
// to. When stdout is a terminal it is wrapped to interpret ANSI escape
// sequences on platforms that need it.
func Output() io.Writer {
	if isDumb() || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

// colorStderr returns stderr and whether escape codes may be written to it.
func colorStderr() (io.Writer, bool) {
	if isDumb() || !isatty.IsTerminal(os.Stderr.Fd()) {
		return os.Stderr, false
	}
	return colorable.NewColorableStderr(), true
}
