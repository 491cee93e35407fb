package debugger

import (
	"strings"
	"syscall"

	"github.com/deet-dbg/deet/pkg/bininfo"
	"github.com/deet-dbg/deet/pkg/proc"
)

// fakeProgram is a straight line of one byte nop instructions from start
// to end. Running past end exits with exitCode, or is killed by signal.
type fakeProgram struct {
	start, end uint64
	exitCode   int
	signal     syscall.Signal
	// frames are the pcs returned by Backtrace, innermost first.
	frames []uint64
	// stepSignal arrives while stepping over a breakpoint.
	stepSignal syscall.Signal
}

type fakeTarget struct {
	pid    int
	prog   *fakeProgram
	mem    map[uint64]byte
	pc     uint64
	status proc.Status
	exited bool
	killed bool

	resumes            int
	trapsAtFirstResume int
	pendingSignal      syscall.Signal
	delivered          []syscall.Signal
}

func newFakeTarget(prog *fakeProgram, pid int) *fakeTarget {
	t := &fakeTarget{pid: pid, prog: prog, mem: make(map[uint64]byte), pc: prog.start}
	for a := prog.start; a < prog.end; a++ {
		t.mem[a] = 0x90
	}
	return t
}

func (t *fakeTarget) exitedError() error {
	return &proc.ProcessExitedError{Pid: t.pid, Status: t.status}
}

func (t *fakeTarget) Pid() int          { return t.pid }
func (t *fakeTarget) CurrentPC() uint64 { return t.pc }

func (t *fakeTarget) InstallByte(addr uint64, value byte) (byte, error) {
	if t.exited {
		return 0, t.exitedError()
	}
	orig, ok := t.mem[addr]
	if !ok {
		return 0, &proc.AccessError{Addr: addr, Write: true, Err: syscall.EIO}
	}
	t.mem[addr] = value
	return orig, nil
}

func (t *fakeTarget) traps() int {
	n := 0
	for _, b := range t.mem {
		if b == proc.TrapOpcode {
			n++
		}
	}
	return n
}

func (t *fakeTarget) exit() proc.Status {
	t.exited = true
	if t.prog.signal != 0 {
		t.status = proc.Status{Kind: proc.StatusSignaled, Signal: t.prog.signal}
	} else {
		t.status = proc.Status{Kind: proc.StatusExited, ExitCode: t.prog.exitCode}
	}
	return t.status
}

func (t *fakeTarget) Resume(sig syscall.Signal) (proc.Status, error) {
	if t.exited {
		return t.status, t.exitedError()
	}
	if t.resumes == 0 {
		t.trapsAtFirstResume = t.traps()
	}
	if sig == 0 {
		sig = t.pendingSignal
	}
	t.pendingSignal = 0
	t.delivered = append(t.delivered, sig)
	t.resumes++
	for a := t.pc; a < t.prog.end; a++ {
		if t.mem[a] == proc.TrapOpcode {
			t.pc = a + proc.TrapInstructionLength
			t.status = proc.Status{Kind: proc.StatusStopped, Signal: syscall.SIGTRAP, PC: t.pc}
			return t.status, nil
		}
	}
	return t.exit(), nil
}

func (t *fakeTarget) SingleStepOverBreakpoint(addr uint64, orig byte) error {
	if t.exited {
		return t.exitedError()
	}
	t.mem[addr] = orig
	if t.pc == addr+proc.TrapInstructionLength {
		t.pc = addr
	}
	t.pc++
	if t.pc >= t.prog.end {
		t.exit()
		return t.exitedError()
	}
	t.pendingSignal = t.prog.stepSignal
	t.mem[addr] = proc.TrapOpcode
	return nil
}

func (t *fakeTarget) PendingSignal() syscall.Signal { return t.pendingSignal }

func (t *fakeTarget) Backtrace(resolver proc.SymbolResolver, maxDepth int) ([]proc.Frame, error) {
	frames := make([]proc.Frame, 0, len(t.prog.frames))
	for _, pc := range t.prog.frames {
		f := proc.Frame{PC: pc}
		f.Function, _ = resolver.FunctionNameAt(pc)
		f.Location, _ = resolver.SourceLineAt(pc)
		frames = append(frames, f)
	}
	return frames, nil
}

func (t *fakeTarget) InstructionAt(addr uint64, patched map[uint64]byte) (string, error) {
	b, ok := t.mem[addr]
	if !ok {
		return "", &proc.AccessError{Addr: addr, Err: syscall.EIO}
	}
	if orig, ok := patched[addr]; ok {
		b = orig
	}
	if b == proc.TrapOpcode {
		return "int3", nil
	}
	return "nop", nil
}

func (t *fakeTarget) Kill() error {
	if !t.exited {
		t.killed = true
	}
	t.exited = true
	return nil
}

type fakeLauncher struct {
	prog     *fakeProgram
	err      error
	launches [][]string
	flags    []proc.LaunchFlags
	targets  []*fakeTarget
}

func (l *fakeLauncher) launch(cmd []string, wd string, flags proc.LaunchFlags, breakpoints []uint64) (Target, []proc.Patch, error) {
	l.launches = append(l.launches, cmd)
	l.flags = append(l.flags, flags)
	if l.err != nil {
		return nil, nil, l.err
	}
	t := newFakeTarget(l.prog, 100+len(l.targets))
	l.targets = append(l.targets, t)
	patches := make([]proc.Patch, 0, len(breakpoints))
	for _, addr := range breakpoints {
		orig, err := t.InstallByte(addr, proc.TrapOpcode)
		patches = append(patches, proc.Patch{Addr: addr, Orig: orig, Err: err})
	}
	return t, patches, nil
}

func (l *fakeLauncher) last() *fakeTarget {
	return l.targets[len(l.targets)-1]
}

const fakeSource = "/src/nested.c"

type fakeFunction struct {
	name       string
	entry, end uint64
	body       uint64
	line       int
}

// fakeSymbols describes main at 0x401000 and foo at 0x401100, each with a
// single source line.
type fakeSymbols []fakeFunction

var symbols = fakeSymbols{
	{name: "main", entry: 0x401000, end: 0x401100, body: 0x401010, line: 10},
	{name: "foo", entry: 0x401100, end: 0x401200, body: 0x401110, line: 5},
}

func (s fakeSymbols) function(pc uint64) *fakeFunction {
	for i := range s {
		if pc >= s[i].entry && pc < s[i].end {
			return &s[i]
		}
	}
	return nil
}

func (s fakeSymbols) FunctionNameAt(pc uint64) (string, bool) {
	if fn := s.function(pc); fn != nil {
		return fn.name, true
	}
	return "", false
}

func (s fakeSymbols) FunctionEntryAt(pc uint64) (uint64, bool) {
	if fn := s.function(pc); fn != nil {
		return fn.entry, true
	}
	return 0, false
}

func (s fakeSymbols) SourceLineAt(pc uint64) (bininfo.Location, bool) {
	if fn := s.function(pc); fn != nil {
		return bininfo.Location{File: fakeSource, Line: fn.line}, true
	}
	return bininfo.Location{}, false
}

func (s fakeSymbols) AddressForLine(file string, line int) (uint64, bool) {
	if file != "" && !strings.HasSuffix(fakeSource, "/"+file) && file != fakeSource {
		return 0, false
	}
	for _, fn := range s {
		if fn.line == line {
			return fn.body, true
		}
	}
	return 0, false
}

func (s fakeSymbols) AddressForFunction(file, name string) (uint64, bool) {
	for _, fn := range s {
		if fn.name == name {
			return fn.body, true
		}
	}
	return 0, false
}
