package proc

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/deet-dbg/deet/pkg/bininfo"
)

// DefaultMaxDepth is the number of frames Backtrace walks when the caller
// does not specify a limit.
const DefaultMaxDepth = 1024

// entryFunction is the outermost function of the program, the frame chain
// is not followed past it.
const entryFunction = "main"

// ErrMaxDepth is returned with the frames gathered so far when the frame
// chain does not end within the maximum depth.
var ErrMaxDepth = errors.New("frame chain did not end within the maximum depth")

// SymbolResolver maps instruction addresses to functions and source lines.
type SymbolResolver interface {
	FunctionNameAt(pc uint64) (string, bool)
	FunctionEntryAt(pc uint64) (uint64, bool)
	SourceLineAt(pc uint64) (bininfo.Location, bool)
}

// frameSetup describes how far the prologue of the innermost function
// has run, which decides where its return address is.
type frameSetup uint8

const (
	// frameComplete: bp points at the saved frame pointer of the caller,
	// the return address is at bp+8.
	frameComplete frameSetup = iota
	// frameAtEntry: nothing was pushed yet, the return address is at sp
	// and bp still belongs to the caller.
	frameAtEntry
	// framePushed: the caller's frame pointer was pushed but bp was not
	// updated, the return address is at sp+8.
	framePushed
)

// maxPrologueLength bounds the code decoded looking for the frame setup.
const maxPrologueLength = 32

// Frame is one function activation found walking the frame pointer chain.
type Frame struct {
	// PC is the address the frame was resolved at: the instruction pointer
	// for the innermost frame, the call instruction for the others.
	PC       uint64
	Function string
	Location bininfo.Location
}

func (f Frame) String() string {
	fn := f.Function
	if fn == "" {
		fn = "??"
	}
	if f.Location.File == "" {
		return fmt.Sprintf("%s (%#x)", fn, f.PC)
	}
	return fmt.Sprintf("%s (%s)", fn, f.Location)
}

func resolveFrame(pc uint64, resolver SymbolResolver) Frame {
	f := Frame{PC: pc}
	f.Function, _ = resolver.FunctionNameAt(pc)
	f.Location, _ = resolver.SourceLineAt(pc)
	return f
}

// Backtrace walks the frame pointer chain of the stopped process and
// returns its frames, innermost first. If a frame can not be read the
// frames found up to that point are returned along with the error.
func (t *Tracee) Backtrace(resolver SymbolResolver, maxDepth int) ([]Frame, error) {
	if t.exited {
		return nil, t.exitedError()
	}
	regs := t.regs
	if _, ok := t.traps[regs.pc-TrapInstructionLength]; ok && t.status.Signal == syscall.SIGTRAP {
		// stopped by one of our traps, the instruction at the breakpoint
		// address has not run yet
		regs.pc -= TrapInstructionLength
	}
	return walkFrames(t.readUint64, regs, t.prologueSetup(regs.pc, resolver), resolver, maxDepth)
}

// prologueSetup decodes the code between the entry of the current function
// and the instruction pointer to find out if the frame pointer was set up.
func (t *Tracee) prologueSetup(pc uint64, resolver SymbolResolver) frameSetup {
	entry, ok := resolver.FunctionEntryAt(pc)
	if !ok || pc-entry > maxPrologueLength {
		return frameComplete
	}
	if pc == entry {
		return frameAtEntry
	}
	code, err := t.ReadMemory(entry, int(pc-entry))
	if err != nil {
		t.log.WithError(err).Debugf("could not read prologue at %#x", entry)
		return frameComplete
	}
	for addr, orig := range t.traps {
		if addr >= entry && addr < pc {
			code[addr-entry] = orig
		}
	}
	return prologueState(code)
}

// walkFrames follows the chain of saved frame pointers starting at bp. On
// amd64 with frame pointers [bp] is the caller's frame pointer and [bp+8]
// the return address into the caller. If the innermost function stopped
// before its prologue set up bp the first return address is found relative
// to sp instead.
func walkFrames(readWord func(addr uint64) (uint64, error), regs registers, setup frameSetup, resolver SymbolResolver, maxDepth int) ([]Frame, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	pc, bp := regs.pc, regs.bp
	frames := make([]Frame, 0, 8)
	for {
		frame := resolveFrame(pc, resolver)
		frames = append(frames, frame)
		if frame.Function == entryFunction {
			return frames, nil
		}
		if setup == frameComplete && bp == 0 {
			return frames, nil
		}
		if len(frames) >= maxDepth {
			return frames, ErrMaxDepth
		}
		retAddr, framed := bp+wordSize, setup == frameComplete
		switch setup {
		case frameAtEntry:
			retAddr = regs.sp
		case framePushed:
			retAddr = regs.sp + wordSize
		}
		setup = frameComplete
		ret, err := readWord(retAddr)
		if err != nil {
			return frames, err
		}
		if ret == 0 {
			return frames, nil
		}
		next := bp
		if framed {
			if next, err = readWord(bp); err != nil {
				return frames, err
			}
		}
		pc, bp = ret-1, next
	}
}
