//go:build !linux || !amd64
// +build !linux !amd64

package proc

import (
	"os/exec"
	"syscall"
)

func startProcess(cmd []string, wd string, flags LaunchFlags) (*exec.Cmd, error) {
	return nil, ErrUnsupportedPlatform
}

func peekData(pid int, addr uint64, out []byte) error {
	return ErrUnsupportedPlatform
}

func pokeData(pid int, addr uint64, data []byte) error {
	return ErrUnsupportedPlatform
}

func getRegisters(pid int) (registers, error) {
	return registers{}, ErrUnsupportedPlatform
}

func setPC(pid int, pc uint64) error {
	return ErrUnsupportedPlatform
}

func ptraceCont(pid int, sig syscall.Signal) error {
	return ErrUnsupportedPlatform
}

func ptraceSingleStep(pid int) error {
	return ErrUnsupportedPlatform
}

func waitStatus(pid int) (Status, error) {
	return Status{}, ErrUnsupportedPlatform
}

func killProcess(pid int) error {
	return ErrUnsupportedPlatform
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}
