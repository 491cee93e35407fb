package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// StatusKind is the kind of state change reported by Resume.
type StatusKind uint8

const (
	// StatusStopped means the process is stopped and can be inspected.
	StatusStopped StatusKind = iota
	// StatusExited means the process exited normally.
	StatusExited
	// StatusSignaled means the process was terminated by a signal.
	StatusSignaled
)

// Status is the result of waiting for the process to change state.
type Status struct {
	Kind StatusKind
	// Signal is the stop signal for StatusStopped and the terminating
	// signal for StatusSignaled.
	Signal syscall.Signal
	// PC is the instruction pointer at a stop.
	PC uint64
	// ExitCode is only set for StatusExited.
	ExitCode int
}

// Exited returns true if the process no longer exists.
func (s Status) Exited() bool {
	return s.Kind != StatusStopped
}

func (s Status) String() string {
	switch s.Kind {
	case StatusExited:
		return fmt.Sprintf("exited with status %d", s.ExitCode)
	case StatusSignaled:
		return fmt.Sprintf("killed by %s", SignalName(s.Signal))
	default:
		return fmt.Sprintf("stopped with %s at %#x", SignalName(s.Signal), s.PC)
	}
}

// SignalName returns the conventional name of sig, e.g. "SIGTRAP".
func SignalName(sig syscall.Signal) string {
	return signalName(sig)
}

// ErrUnsupportedPlatform is returned by every operation on platforms
// other than linux/amd64.
var ErrUnsupportedPlatform = errors.New("native debugging is only supported on linux/amd64")

// SpawnError is returned by Launch when the target could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not launch process %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// AccessError is returned when memory of the process can not be read or
// written at Addr.
type AccessError struct {
	Addr  uint64
	Write bool
	Err   error
}

func (e *AccessError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("could not %s memory at %#x: %v", op, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// TraceError is returned when a ptrace or wait request fails.
type TraceError struct {
	Op  string
	Pid int
	Err error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("%s failed for pid %d: %v", e.Op, e.Pid, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// ProcessExitedError is returned by operations on a process that has
// already exited.
type ProcessExitedError struct {
	Pid    int
	Status Status
}

func (e *ProcessExitedError) Error() string {
	if e.Status.Kind == StatusSignaled {
		return fmt.Sprintf("Process %d has been killed by %s", e.Pid, SignalName(e.Status.Signal))
	}
	return fmt.Sprintf("Process %d has exited with status %d", e.Pid, e.Status.ExitCode)
}
