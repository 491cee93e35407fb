//go:build linux && amd64
// +build linux,amd64

package proc

import (
	"os"
	"os/exec"
	"syscall"

	sys "golang.org/x/sys/unix"
)

const (
	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

func startProcess(cmd []string, wd string, flags LaunchFlags) (*exec.Cmd, error) {
	if flags&LaunchDisableASLR != 0 {
		oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
		if err == syscall.Errno(0) {
			newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
			syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
			defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
		}
	}

	process := exec.Command(cmd[0])
	process.Args = cmd
	process.Stdin = os.Stdin
	process.Stdout = os.Stdout
	process.Stderr = os.Stderr
	process.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if wd != "" {
		process.Dir = wd
	}
	if err := process.Start(); err != nil {
		return nil, err
	}
	return process, nil
}

func peekData(pid int, addr uint64, out []byte) error {
	n, err := sys.PtracePeekData(pid, uintptr(addr), out)
	if err == nil && n != len(out) {
		err = syscall.EIO
	}
	return err
}

func pokeData(pid int, addr uint64, data []byte) error {
	n, err := sys.PtracePokeData(pid, uintptr(addr), data)
	if err == nil && n != len(data) {
		err = syscall.EIO
	}
	return err
}

func getRegisters(pid int) (registers, error) {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &regs); err != nil {
		return registers{}, &TraceError{Op: "PTRACE_GETREGS", Pid: pid, Err: err}
	}
	return registers{pc: regs.Rip, sp: regs.Rsp, bp: regs.Rbp}, nil
}

func setPC(pid int, pc uint64) error {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &regs); err != nil {
		return &TraceError{Op: "PTRACE_GETREGS", Pid: pid, Err: err}
	}
	regs.SetPC(pc)
	if err := sys.PtraceSetRegs(pid, &regs); err != nil {
		return &TraceError{Op: "PTRACE_SETREGS", Pid: pid, Err: err}
	}
	return nil
}

func ptraceCont(pid int, sig syscall.Signal) error {
	if err := sys.PtraceCont(pid, int(sig)); err != nil {
		return &TraceError{Op: "PTRACE_CONT", Pid: pid, Err: err}
	}
	return nil
}

func ptraceSingleStep(pid int) error {
	if err := sys.PtraceSingleStep(pid); err != nil {
		return &TraceError{Op: "PTRACE_SINGLESTEP", Pid: pid, Err: err}
	}
	return nil
}

func waitStatus(pid int) (Status, error) {
	for {
		var ws sys.WaitStatus
		_, err := sys.Wait4(pid, &ws, sys.WALL, nil)
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return Status{}, &TraceError{Op: "wait4", Pid: pid, Err: err}
		}
		switch {
		case ws.Exited():
			return Status{Kind: StatusExited, ExitCode: ws.ExitStatus()}, nil
		case ws.Signaled():
			return Status{Kind: StatusSignaled, Signal: ws.Signal()}, nil
		case ws.Stopped():
			return Status{Kind: StatusStopped, Signal: ws.StopSignal()}, nil
		}
	}
}

func killProcess(pid int) error {
	if err := sys.Kill(pid, sys.SIGKILL); err != nil && err != sys.ESRCH {
		return &TraceError{Op: "kill", Pid: pid, Err: err}
	}
	for {
		var ws sys.WaitStatus
		_, err := sys.Wait4(pid, &ws, sys.WALL, nil)
		switch {
		case err == sys.EINTR:
			continue
		case err == sys.ECHILD:
			return nil
		case err != nil:
			return &TraceError{Op: "wait4", Pid: pid, Err: err}
		}
		if ws.Exited() || ws.Signaled() {
			return nil
		}
	}
}

func signalName(sig syscall.Signal) string {
	if name := sys.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
