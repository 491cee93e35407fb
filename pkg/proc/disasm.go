package proc

import (
	"bytes"

	"golang.org/x/arch/x86/x86asm"
)

const maxInstructionLength = 15

// endbr64 starts functions compiled with control flow protection.
var endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}

// InstructionAt decodes the instruction at addr and returns it in GNU
// syntax. patched maps addresses where a trap is installed to the byte it
// replaced, those bytes are decoded instead of the trap.
func (t *Tracee) InstructionAt(addr uint64, patched map[uint64]byte) (string, error) {
	mem, err := t.ReadMemory(addr, maxInstructionLength)
	if err != nil {
		return "", err
	}
	return decodeInstruction(mem, addr, patched)
}

func decodeInstruction(mem []byte, addr uint64, patched map[uint64]byte) (string, error) {
	for i := range mem {
		if orig, ok := patched[addr+uint64(i)]; ok {
			mem[i] = orig
		}
	}
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return "", err
	}
	return x86asm.GNUSyntax(inst, addr, nil), nil
}

// prologueState decodes code, the instructions of a function from its
// entry up to the current instruction pointer, and reports whether the
// frame pointer was pushed and set up.
func prologueState(code []byte) frameSetup {
	setup := frameAtEntry
	for len(code) > 0 {
		if bytes.HasPrefix(code, endbr64) {
			code = code[len(endbr64):]
			continue
		}
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return frameComplete
		}
		switch {
		case inst.Op == x86asm.PUSH && inst.Args[0] == x86asm.RBP:
			setup = framePushed
		case inst.Op == x86asm.MOV && inst.Args[0] == x86asm.RBP && inst.Args[1] == x86asm.RSP:
			return frameComplete
		}
		code = code[inst.Len:]
	}
	return setup
}
