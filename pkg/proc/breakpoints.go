package proc

const (
	// TrapOpcode is the x86 INT3 instruction.
	TrapOpcode byte = 0xCC
	// TrapInstructionLength is the amount the instruction pointer has
	// advanced past a breakpoint address when the trap is reported.
	TrapInstructionLength = 1

	wordSize = 8
)

// Patch is the result of installing one breakpoint at launch.
type Patch struct {
	Addr uint64
	// Orig is the byte replaced by the trap opcode. Only valid if Err is nil.
	Orig byte
	Err  error
}

// patchWord replaces the byte at offset (0 is the least significant,
// lowest addressed byte) of a little endian word with value and returns
// the new word and the replaced byte.
func patchWord(word uint64, offset uint, value byte) (uint64, byte) {
	shift := offset * 8
	orig := byte(word >> shift)
	word = word&^(0xff<<shift) | uint64(value)<<shift
	return word, orig
}

func alignWord(addr uint64) (base uint64, offset uint) {
	return addr &^ (wordSize - 1), uint(addr & (wordSize - 1))
}
