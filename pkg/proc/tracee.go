package proc

import (
	"encoding/binary"
	"errors"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/deet-dbg/deet/pkg/logflags"
)

// maxStepAttempts bounds the single steps retried when a signal
// interrupts stepping over a breakpoint.
const maxStepAttempts = 16

// LaunchFlags modify how a process is launched.
type LaunchFlags uint8

const (
	// LaunchDisableASLR launches the process with address space layout
	// randomization turned off.
	LaunchDisableASLR LaunchFlags = 1 << iota
)

type registers struct {
	pc, sp, bp uint64
}

// Tracee is a single traced child process.
type Tracee struct {
	pid    int
	cmd    *exec.Cmd
	regs   registers
	status Status
	exited bool

	// traps maps the addresses where a trap opcode was written to the
	// byte it replaced.
	traps map[uint64]byte
	// pendingSignal is a signal received while stepping over a
	// breakpoint, it is delivered by the next Resume.
	pendingSignal syscall.Signal

	// ptrace requests must all come from the same OS thread, they are sent
	// to handlePtraceFuncs through ptraceChan.
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	log logflags.Logger
}

func newTracee() *Tracee {
	t := &Tracee{
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		traps:          make(map[uint64]byte),
		log:            logflags.ProcLogger(),
	}
	go t.handlePtraceFuncs()
	return t
}

func (t *Tracee) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_TRACEME to come from the same thread.
	runtime.LockOSThread()

	for fn := range t.ptraceChan {
		fn()
		t.ptraceDoneChan <- nil
	}
}

func (t *Tracee) execPtraceFunc(fn func()) {
	t.ptraceChan <- fn
	<-t.ptraceDoneChan
}

func (t *Tracee) postExit() {
	if t.exited {
		return
	}
	t.exited = true
	close(t.ptraceChan)
	close(t.ptraceDoneChan)
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Release()
	}
}

// Launch starts cmd[0] with arguments cmd[1:] under ptrace and installs a
// trap at every address in breakpoints before the first instruction of the
// new program runs. Tracing is requested in the child before it calls
// execve, so the process is stopped right after the exec.
//
// A breakpoint that can not be installed is reported in its Patch and
// does not stop the launch.
func Launch(cmd []string, wd string, flags LaunchFlags, breakpoints []uint64) (*Tracee, []Patch, error) {
	if len(cmd) == 0 {
		return nil, nil, &SpawnError{Err: errors.New("no executable specified")}
	}
	t := newTracee()
	var err error
	t.execPtraceFunc(func() {
		t.cmd, err = startProcess(cmd, wd, flags)
	})
	if err != nil {
		t.postExit()
		return nil, nil, &SpawnError{Path: cmd[0], Err: err}
	}
	t.pid = t.cmd.Process.Pid
	t.log = t.log.WithField("pid", t.pid)
	t.log.Debugf("launched %q", cmd)

	status, err := t.wait()
	if err != nil {
		t.Kill()
		return nil, nil, err
	}
	if status.Exited() {
		return nil, nil, &SpawnError{Path: cmd[0], Err: &ProcessExitedError{Pid: t.pid, Status: status}}
	}

	patches := make([]Patch, 0, len(breakpoints))
	for _, addr := range breakpoints {
		orig, err := t.InstallByte(addr, TrapOpcode)
		if err != nil {
			t.log.WithError(err).Warnf("could not install breakpoint at %#x", addr)
		}
		patches = append(patches, Patch{Addr: addr, Orig: orig, Err: err})
	}
	return t, patches, nil
}

// Pid returns the process id of the tracee.
func (t *Tracee) Pid() int {
	return t.pid
}

// Exited returns true if the process has exited or was killed.
func (t *Tracee) Exited() bool {
	return t.exited
}

// PendingSignal returns the signal that will be delivered by the next
// Resume(0), or 0.
func (t *Tracee) PendingSignal() syscall.Signal {
	return t.pendingSignal
}

// CurrentPC returns the instruction pointer observed at the last stop.
func (t *Tracee) CurrentPC() uint64 {
	return t.regs.pc
}

func (t *Tracee) exitedError() error {
	return &ProcessExitedError{Pid: t.pid, Status: t.status}
}

// InstallByte replaces the byte at addr with value and returns the byte
// that was there. The other bytes of the word containing addr are
// written back unchanged.
func (t *Tracee) InstallByte(addr uint64, value byte) (byte, error) {
	if t.exited {
		return 0, t.exitedError()
	}
	base, offset := alignWord(addr)
	var (
		buf  [wordSize]byte
		orig byte
		err  error
	)
	t.execPtraceFunc(func() {
		if err = peekData(t.pid, base, buf[:]); err != nil {
			err = &AccessError{Addr: addr, Err: err}
			return
		}
		var word uint64
		word, orig = patchWord(binary.LittleEndian.Uint64(buf[:]), offset, value)
		binary.LittleEndian.PutUint64(buf[:], word)
		if err = pokeData(t.pid, base, buf[:]); err != nil {
			err = &AccessError{Addr: addr, Write: true, Err: err}
		}
	})
	if err != nil {
		return orig, err
	}
	switch {
	case value == TrapOpcode && orig != TrapOpcode:
		t.traps[addr] = orig
	case value != TrapOpcode:
		delete(t.traps, addr)
	}
	if logflags.Proc() {
		t.log.Debugf("wrote %#02x at %#x (was %#02x)", value, addr, orig)
	}
	return orig, nil
}

// ReadMemory reads n bytes of the process memory starting at addr.
func (t *Tracee) ReadMemory(addr uint64, n int) ([]byte, error) {
	if t.exited {
		return nil, t.exitedError()
	}
	buf := make([]byte, n)
	var err error
	t.execPtraceFunc(func() {
		err = peekData(t.pid, addr, buf)
	})
	if err != nil {
		return nil, &AccessError{Addr: addr, Err: err}
	}
	return buf, nil
}

func (t *Tracee) readUint64(addr uint64) (uint64, error) {
	buf, err := t.ReadMemory(addr, wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Resume continues the process, delivering sig unless it is 0, and waits
// for it to stop or exit. If sig is 0 a signal that arrived during the
// last SingleStepOverBreakpoint is delivered instead.
func (t *Tracee) Resume(sig syscall.Signal) (Status, error) {
	if t.exited {
		return t.status, t.exitedError()
	}
	if sig == 0 {
		sig = t.pendingSignal
	}
	t.pendingSignal = 0
	var err error
	t.execPtraceFunc(func() {
		err = ptraceCont(t.pid, sig)
	})
	if err != nil {
		return Status{}, err
	}
	return t.wait()
}

func (t *Tracee) wait() (Status, error) {
	var (
		status Status
		err    error
	)
	t.execPtraceFunc(func() {
		status, err = waitStatus(t.pid)
		if err == nil && status.Kind == StatusStopped {
			t.regs, err = getRegisters(t.pid)
		}
	})
	if err != nil {
		return Status{}, err
	}
	if status.Exited() {
		t.status = status
		if logflags.Proc() {
			t.log.Debugf("process %s", status)
		}
		t.postExit()
		return status, nil
	}
	status.PC = t.regs.pc
	t.status = status
	if logflags.Proc() {
		t.log.Debugf("process %s", status)
	}
	return status, nil
}

// SingleStepOverBreakpoint executes the instruction at addr, where a
// breakpoint whose original byte is orig is installed, and installs the
// breakpoint again. If the instruction pointer is past the trap it is
// moved back to addr first.
func (t *Tracee) SingleStepOverBreakpoint(addr uint64, orig byte) error {
	if t.exited {
		return t.exitedError()
	}
	if _, err := t.InstallByte(addr, orig); err != nil {
		return err
	}
	var err error
	if t.regs.pc == addr+TrapInstructionLength {
		t.execPtraceFunc(func() {
			err = setPC(t.pid, addr)
		})
		if err != nil {
			return err
		}
		t.regs.pc = addr
	}
	// A signal stop before the step completes suppresses the signal, it is
	// kept and delivered by the next Resume.
	for i := 0; i < maxStepAttempts; i++ {
		t.execPtraceFunc(func() {
			err = ptraceSingleStep(t.pid)
		})
		if err != nil {
			return err
		}
		status, err := t.wait()
		if err != nil {
			return err
		}
		if status.Exited() {
			return t.exitedError()
		}
		if status.Signal == syscall.SIGTRAP {
			break
		}
		t.log.Debugf("single step at %#x interrupted by %s", addr, SignalName(status.Signal))
		t.pendingSignal = status.Signal
	}
	_, err = t.InstallByte(addr, TrapOpcode)
	return err
}

// Kill kills the process and reaps it. Killing a process that has already
// exited is not an error.
func (t *Tracee) Kill() error {
	if t.exited {
		return nil
	}
	var err error
	t.execPtraceFunc(func() {
		err = killProcess(t.pid)
	})
	t.status = Status{Kind: StatusSignaled, Signal: syscall.SIGKILL}
	t.postExit()
	if err != nil {
		t.log.WithError(err).Warn("kill")
	}
	return err
}
