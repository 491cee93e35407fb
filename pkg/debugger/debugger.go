// Package debugger implements the debugging session: it owns the
// breakpoint table and the traced process, translates breakpoint
// specifications to addresses and reports why the process stopped.
package debugger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"

	"github.com/deet-dbg/deet/pkg/bininfo"
	"github.com/deet-dbg/deet/pkg/logflags"
	"github.com/deet-dbg/deet/pkg/proc"
)

// ErrProcessNotRunning is returned by commands that need a live process.
var ErrProcessNotRunning = errors.New("process not running")

// Target is the traced process, implemented by *proc.Tracee.
type Target interface {
	Pid() int
	CurrentPC() uint64
	InstallByte(addr uint64, value byte) (byte, error)
	Resume(sig syscall.Signal) (proc.Status, error)
	SingleStepOverBreakpoint(addr uint64, orig byte) error
	PendingSignal() syscall.Signal
	Backtrace(resolver proc.SymbolResolver, maxDepth int) ([]proc.Frame, error)
	InstructionAt(addr uint64, patched map[uint64]byte) (string, error)
	Kill() error
}

// LaunchFunc starts a traced process with a trap installed at each of the
// breakpoint addresses.
type LaunchFunc func(cmd []string, wd string, flags proc.LaunchFlags, breakpoints []uint64) (Target, []proc.Patch, error)

func launchNative(cmd []string, wd string, flags proc.LaunchFlags, breakpoints []uint64) (Target, []proc.Patch, error) {
	t, patches, err := proc.Launch(cmd, wd, flags, breakpoints)
	if err != nil {
		return nil, nil, err
	}
	return t, patches, nil
}

// Symbols answers the symbol queries the session needs. It is implemented
// by *bininfo.BinaryInfo.
type Symbols interface {
	FunctionNameAt(pc uint64) (string, bool)
	FunctionEntryAt(pc uint64) (uint64, bool)
	SourceLineAt(pc uint64) (bininfo.Location, bool)
	AddressForLine(file string, line int) (uint64, bool)
	AddressForFunction(file, name string) (uint64, bool)
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// Executable is the path of the program launched by Run.
	Executable string
	// WorkingDir is working directory of the new process.
	WorkingDir string
	// DisableASLR launches the process without address space randomization.
	DisableASLR bool
	// MaxBacktraceDepth limits the number of frames printed by Backtrace.
	MaxBacktraceDepth int
	// SubstitutePath rewrites source file paths before they are printed.
	SubstitutePath func(string) string
	// Launch starts the process, defaults to proc.Launch.
	Launch LaunchFunc
	// Stdout receives the reports of the session, defaults to os.Stdout.
	Stdout io.Writer
}

// Breakpoint is a breakpoint address together with the instruction byte
// it replaced.
type Breakpoint struct {
	ID   int
	Addr uint64
	// OriginalByte is only valid while Installed is true.
	OriginalByte byte
	// Installed is true while the trap is resident in the live process.
	Installed bool
}

// State is the state of the debugged process as seen by the session.
type State uint8

const (
	// StateNoProcess means no process is being debugged.
	StateNoProcess State = iota
	// StateStopped means the process is stopped and can be inspected.
	StateStopped
)

func (s State) String() string {
	if s == StateStopped {
		return "stopped"
	}
	return "no process"
}

// Debugger is a debugging session for one executable.
type Debugger struct {
	config  *Config
	symbols Symbols
	out     io.Writer
	launch  LaunchFunc

	breakpoints map[uint64]*Breakpoint
	target      Target
	lastStatus  proc.Status

	log logflags.Logger
}

// New creates a new Debugger for config.Executable.
func New(config *Config, symbols Symbols) *Debugger {
	d := &Debugger{
		config:      config,
		symbols:     symbols,
		out:         config.Stdout,
		launch:      config.Launch,
		breakpoints: make(map[uint64]*Breakpoint),
		log:         logflags.DebuggerLogger(),
	}
	if d.out == nil {
		d.out = os.Stdout
	}
	if d.launch == nil {
		d.launch = launchNative
	}
	return d
}

// State returns the state of the debugged process.
func (d *Debugger) State() State {
	if d.target == nil {
		return StateNoProcess
	}
	return StateStopped
}

// Pid returns the pid of the debugged process or 0.
func (d *Debugger) Pid() int {
	if d.target == nil {
		return 0
	}
	return d.target.Pid()
}

// Breakpoints returns a copy of the breakpoint table ordered by ID.
func (d *Debugger) Breakpoints() []Breakpoint {
	r := make([]Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		r = append(r, *bp)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// Break resolves spec to an address and sets a breakpoint there. Setting
// a breakpoint twice at the same address returns the existing one. If a
// process is running the trap is installed immediately. A breakpoint that
// can not be installed stays in the table and is installed again on the
// next Run.
func (d *Debugger) Break(spec string) (*Breakpoint, error) {
	addr, err := d.resolve(spec)
	if err != nil {
		return nil, err
	}
	bp, ok := d.breakpoints[addr]
	if !ok {
		bp = &Breakpoint{ID: len(d.breakpoints) + 1, Addr: addr}
		d.breakpoints[addr] = bp
		d.log.Debugf("created breakpoint %d at %#x for %q", bp.ID, addr, spec)
	}
	fmt.Fprintf(d.out, "Set breakpoint %d at %#x\n", bp.ID, bp.Addr)
	if d.target != nil && !bp.Installed {
		orig, err := d.target.InstallByte(addr, proc.TrapOpcode)
		if err != nil {
			return bp, fmt.Errorf("could not install breakpoint %d: %w", bp.ID, err)
		}
		bp.OriginalByte, bp.Installed = orig, true
	}
	return bp, nil
}

// Run kills the running process, if any, and starts a new one with args
// and every breakpoint of the table installed, then lets it run until
// it stops or exits.
func (d *Debugger) Run(args []string) error {
	if d.target != nil {
		fmt.Fprintf(d.out, "Killing running inferior (pid %d)\n", d.target.Pid())
		d.dropTarget()
	}

	bps := d.Breakpoints()
	addrs := make([]uint64, len(bps))
	for i := range bps {
		addrs[i] = bps[i].Addr
	}
	var flags proc.LaunchFlags
	if d.config.DisableASLR {
		flags |= proc.LaunchDisableASLR
	}
	cmd := append([]string{d.config.Executable}, args...)
	if logflags.Debugger() {
		d.log.Debugf("launching %q with %d breakpoints", cmd, len(addrs))
	}
	target, patches, err := d.launch(cmd, d.config.WorkingDir, flags, addrs)
	if err != nil {
		return err
	}
	d.target = target
	for _, p := range patches {
		bp, ok := d.breakpoints[p.Addr]
		if !ok {
			continue
		}
		if p.Err != nil {
			fmt.Fprintf(d.out, "Could not install breakpoint %d at %#x: %v\n", bp.ID, bp.Addr, p.Err)
			continue
		}
		bp.OriginalByte, bp.Installed = p.Orig, true
	}
	return d.resume()
}

// Continue resumes the stopped process. If it is stopped at a breakpoint
// the instruction under the breakpoint is executed first with the
// original byte in place.
func (d *Debugger) Continue() error {
	if d.target == nil {
		return ErrProcessNotRunning
	}
	if bp := d.breakpointAtStop(); bp != nil {
		fmt.Fprintf(d.out, "Previously stopped at breakpoint %d at %#x\n", bp.ID, bp.Addr)
		if err := d.target.SingleStepOverBreakpoint(bp.Addr, bp.OriginalByte); err != nil {
			var exitedErr *proc.ProcessExitedError
			if errors.As(err, &exitedErr) {
				d.report(exitedErr.Status)
				d.dropTarget()
				return nil
			}
			return err
		}
		if sig := d.target.PendingSignal(); sig != 0 {
			fmt.Fprintf(d.out, "Child received %s while stepping, delivering it\n", proc.SignalName(sig))
		}
	}
	return d.resume()
}

// Backtrace prints the frames of the stopped process, innermost first.
func (d *Debugger) Backtrace() error {
	if d.target == nil {
		return ErrProcessNotRunning
	}
	frames, err := d.target.Backtrace(d.symbols, d.config.MaxBacktraceDepth)
	for _, frame := range frames {
		fmt.Fprintln(d.out, d.formatFrame(frame))
	}
	return err
}

// Quit kills the running process, if any.
func (d *Debugger) Quit() error {
	if d.target != nil {
		fmt.Fprintf(d.out, "Killing running inferior (pid %d)\n", d.target.Pid())
		d.dropTarget()
	}
	return nil
}

func (d *Debugger) resume() error {
	status, err := d.target.Resume(0)
	if err != nil {
		d.log.WithError(err).Error("resume failed, killing process")
		d.dropTarget()
		return err
	}
	d.lastStatus = status
	d.report(status)
	if status.Exited() {
		d.dropTarget()
	}
	return nil
}

func (d *Debugger) dropTarget() {
	if d.target == nil {
		return
	}
	if err := d.target.Kill(); err != nil {
		d.log.WithError(err).Warnf("could not kill process %d", d.target.Pid())
	}
	d.target = nil
	d.lastStatus = proc.Status{}
	for _, bp := range d.breakpoints {
		bp.Installed = false
		bp.OriginalByte = 0
	}
}

// breakpointAtStop returns the breakpoint the process is stopped at: the
// process stopped with SIGTRAP right after the trap of an installed
// breakpoint, or its instruction pointer is at an installed breakpoint.
func (d *Debugger) breakpointAtStop() *Breakpoint {
	if d.target == nil || d.lastStatus.Kind != proc.StatusStopped {
		return nil
	}
	pc := d.target.CurrentPC()
	if d.lastStatus.Signal == syscall.SIGTRAP {
		if bp, ok := d.breakpoints[pc-proc.TrapInstructionLength]; ok && bp.Installed {
			return bp
		}
	}
	if bp, ok := d.breakpoints[pc]; ok && bp.Installed {
		return bp
	}
	return nil
}

func (d *Debugger) patchedBytes() map[uint64]byte {
	r := make(map[uint64]byte, len(d.breakpoints))
	for addr, bp := range d.breakpoints {
		if bp.Installed {
			r[addr] = bp.OriginalByte
		}
	}
	return r
}

func (d *Debugger) report(status proc.Status) {
	switch status.Kind {
	case proc.StatusExited:
		fmt.Fprintf(d.out, "Child exited (status %d)\n", status.ExitCode)
	case proc.StatusSignaled:
		fmt.Fprintf(d.out, "Child exited with %s\n", proc.SignalName(status.Signal))
	case proc.StatusStopped:
		fmt.Fprintf(d.out, "Child stopped with %s at address %#x\n", proc.SignalName(status.Signal), status.PC)
		pc := status.PC
		if bp := d.breakpointAtStop(); bp != nil {
			pc = bp.Addr
		}
		fmt.Fprintln(d.out, d.formatStop(pc))
		if inst, err := d.target.InstructionAt(pc, d.patchedBytes()); err == nil {
			fmt.Fprintf(d.out, "=> %#x:\t%s\n", pc, inst)
		} else {
			d.log.WithError(err).Debugf("could not decode instruction at %#x", pc)
		}
	}
}

func (d *Debugger) formatStop(pc uint64) string {
	fn, fnok := d.symbols.FunctionNameAt(pc)
	loc, locok := d.symbols.SourceLineAt(pc)
	switch {
	case fnok && locok:
		return fmt.Sprintf("Stopped at %s (%s)", fn, d.substitute(loc))
	case fnok:
		return fmt.Sprintf("Stopped at %s", fn)
	default:
		return "Unable to resolve location"
	}
}

func (d *Debugger) formatFrame(frame proc.Frame) string {
	if frame.Location.File != "" {
		frame.Location = d.substitute(frame.Location)
	}
	return frame.String()
}

func (d *Debugger) substitute(loc bininfo.Location) bininfo.Location {
	if d.config.SubstitutePath != nil {
		loc.File = d.config.SubstitutePath(loc.File)
	}
	return loc
}
