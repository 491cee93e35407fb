// Package reader wraps debug/dwarf's entry reader with the traversals the
// symbol tables need: compile units, subprograms and their PC ranges.
package reader

import (
	"debug/dwarf"
	"fmt"
)

type Reader struct {
	*dwarf.Reader
}

// New returns a reader for the specified dwarf data.
func New(data *dwarf.Data) *Reader {
	return &Reader{data.Reader()}
}

// PCRange returns the [lowpc, highpc) range of entry. DWARF 4 producers
// encode high_pc as an offset from low_pc, older ones as an address.
func PCRange(entry *dwarf.Entry) (lowpc, highpc uint64, ok bool) {
	lowpc, ok = entry.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return 0, 0, false
	}
	field := entry.AttrField(dwarf.AttrHighpc)
	if field == nil {
		return 0, 0, false
	}
	switch v := field.Val.(type) {
	case uint64:
		highpc = v
	case int64:
		highpc = lowpc + uint64(v)
	default:
		return 0, 0, false
	}
	return lowpc, highpc, true
}

// NextCompileUnit moves the reader to the next compile unit.
func (reader *Reader) NextCompileUnit() (*dwarf.Entry, error) {
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		if entry.Tag == dwarf.TagCompileUnit {
			return entry, nil
		}
	}
}

// NextSubprogram moves the reader to the next subprogram of the current
// compile unit. It returns nil at the end of the compile unit. Nested
// entries of a subprogram (lexical blocks, inlined calls) are skipped.
func (reader *Reader) NextSubprogram() (*dwarf.Entry, error) {
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}

		switch entry.Tag {
		case 0:
			// End of the compile unit's children.
			return nil, nil
		case dwarf.TagCompileUnit:
			return nil, fmt.Errorf("unexpected compile unit at %#x", entry.Offset)
		case dwarf.TagSubprogram:
			if entry.Children {
				reader.SkipChildren()
			}
			return entry, nil
		default:
			if entry.Children {
				reader.SkipChildren()
			}
		}
	}
}
