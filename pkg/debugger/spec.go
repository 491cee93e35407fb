package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedSpecError is returned when a breakpoint specification can not
// be parsed.
type MalformedSpecError struct {
	Spec string
	Err  error
}

func (e *MalformedSpecError) Error() string {
	return fmt.Sprintf("malformed breakpoint specification %q: %v", e.Spec, e.Err)
}

func (e *MalformedSpecError) Unwrap() error { return e.Err }

// SymbolLookupError is returned when a line or function named by a
// breakpoint specification has no code address.
type SymbolLookupError struct {
	Spec string
	// What describes the symbol that was looked up, e.g. "line 42".
	What string
}

func (e *SymbolLookupError) Error() string {
	return fmt.Sprintf("could not find %s", e.What)
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// resolve translates a breakpoint specification to an address:
//
//	*<hex>      raw address, 0x prefix optional
//	<line>      line of the program's source files
//	<file>:<line>
//	<function>
func (d *Debugger) resolve(spec string) (uint64, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return 0, &MalformedSpecError{Spec: spec, Err: fmt.Errorf("empty specification")}

	case strings.HasPrefix(spec, "*"):
		hex := strings.TrimPrefix(strings.TrimPrefix(spec[1:], "0x"), "0X")
		addr, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, &MalformedSpecError{Spec: spec, Err: fmt.Errorf("invalid address %q", spec[1:])}
		}
		return addr, nil

	case isDecimal(spec):
		return d.resolveLine(spec, "", spec)
	}

	if i := strings.LastIndex(spec, ":"); i > 0 && isDecimal(spec[i+1:]) {
		return d.resolveLine(spec, spec[:i], spec[i+1:])
	}

	addr, ok := d.symbols.AddressForFunction("", spec)
	if !ok {
		return 0, &SymbolLookupError{Spec: spec, What: fmt.Sprintf("function %s", spec)}
	}
	return addr, nil
}

func (d *Debugger) resolveLine(spec, file, linestr string) (uint64, error) {
	line, err := strconv.Atoi(linestr)
	if err != nil {
		return 0, &MalformedSpecError{Spec: spec, Err: fmt.Errorf("invalid line number %q", linestr)}
	}
	addr, ok := d.symbols.AddressForLine(file, line)
	if !ok {
		what := fmt.Sprintf("line %d", line)
		if file != "" {
			what = fmt.Sprintf("%s:%d", file, line)
		}
		return 0, &SymbolLookupError{Spec: spec, What: what}
	}
	return addr, nil
}
