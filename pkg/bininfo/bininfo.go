// Package bininfo maps addresses of a native executable to functions and
// source lines, and source locations back to addresses, using the
// executable's DWARF line and subprogram tables and its ELF symbol table.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/deet-dbg/deet/pkg/dwarf/reader"
	"github.com/deet-dbg/deet/pkg/logflags"
)

const pcCacheSize = 4096

// ErrNoDebugInfo is returned by Load when the executable carries no DWARF data.
var ErrNoDebugInfo = errors.New("could not find debugging symbols")

// Location is a position in a source file.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Function describes a function with code in the executable.
type Function struct {
	Name  string
	Entry uint64
	End   uint64
	// File is the primary source file of the compile unit the function
	// belongs to. Empty for functions only known from the symbol table.
	File string
}

type lineRow struct {
	addr        uint64
	file        string
	line        int
	isStmt      bool
	prologueEnd bool
	endSeq      bool
	cuFile      string
}

type pcLookup struct {
	loc Location
	ok  bool
}

// BinaryInfo holds the symbol tables of one executable.
type BinaryInfo struct {
	// Path is the path of the executable.
	Path string

	functions []Function // from DWARF, sorted by Entry
	symbols   []Function // from .symtab, sorted by Entry
	rows      []lineRow  // sorted by addr, end_sequence rows first on ties

	pcCache *lru.Cache
	closer  io.Closer
	log     logflags.Logger
}

// Load opens the ELF executable at path and reads its symbol tables.
func Load(path string) (*BinaryInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	bi, err := loadELF(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	bi.closer = f
	return bi, nil
}

func loadELF(path string, f *elf.File) (*BinaryInfo, error) {
	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDebugInfo, err)
	}
	cache, err := lru.New(pcCacheSize)
	if err != nil {
		return nil, err
	}
	bi := &BinaryInfo{
		Path:    path,
		pcCache: cache,
		log:     logflags.BinInfoLogger().WithField("path", path),
	}
	if err := bi.loadDebugInfo(data); err != nil {
		return nil, err
	}
	bi.loadSymbols(f)
	if logflags.BinInfo() {
		bi.log.Debugf("loaded %d functions, %d symbols, %d line rows", len(bi.functions), len(bi.symbols), len(bi.rows))
	}
	return bi, nil
}

// Close releases the executable file.
func (bi *BinaryInfo) Close() error {
	if bi.closer == nil {
		return nil
	}
	return bi.closer.Close()
}

func (bi *BinaryInfo) loadDebugInfo(data *dwarf.Data) error {
	rdr := reader.New(data)
	for {
		cu, err := rdr.NextCompileUnit()
		if err != nil {
			return err
		}
		if cu == nil {
			break
		}
		cuFile := compileUnitFile(cu)
		if err := bi.loadLineTable(data, cu, cuFile); err != nil {
			bi.log.WithError(err).Warnf("could not read line table of %s", cuFile)
		}
		if !cu.Children {
			continue
		}
		for {
			fn, err := rdr.NextSubprogram()
			if err != nil {
				return err
			}
			if fn == nil {
				break
			}
			name, _ := fn.Val(dwarf.AttrName).(string)
			lowpc, highpc, ok := reader.PCRange(fn)
			if name == "" || !ok {
				continue
			}
			bi.functions = append(bi.functions, Function{Name: name, Entry: lowpc, End: highpc, File: cuFile})
		}
	}
	sort.Slice(bi.functions, func(i, j int) bool { return bi.functions[i].Entry < bi.functions[j].Entry })
	sort.SliceStable(bi.rows, func(i, j int) bool {
		if bi.rows[i].addr != bi.rows[j].addr {
			return bi.rows[i].addr < bi.rows[j].addr
		}
		return bi.rows[i].endSeq && !bi.rows[j].endSeq
	})
	return nil
}

func compileUnitFile(cu *dwarf.Entry) string {
	name, _ := cu.Val(dwarf.AttrName).(string)
	if name == "" {
		return ""
	}
	if !filepath.IsAbs(name) {
		if dir, _ := cu.Val(dwarf.AttrCompDir).(string); dir != "" {
			name = filepath.Join(dir, name)
		}
	}
	return filepath.Clean(name)
}

func (bi *BinaryInfo) loadLineTable(data *dwarf.Data, cu *dwarf.Entry, cuFile string) error {
	lr, err := data.LineReader(cu)
	if err != nil {
		return err
	}
	if lr == nil {
		return nil
	}
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		row := lineRow{
			addr:        le.Address,
			line:        le.Line,
			isStmt:      le.IsStmt,
			prologueEnd: le.PrologueEnd,
			endSeq:      le.EndSequence,
			cuFile:      cuFile,
		}
		if le.File != nil {
			row.file = filepath.Clean(le.File.Name)
		}
		bi.rows = append(bi.rows, row)
	}
}

func (bi *BinaryInfo) loadSymbols(f *elf.File) {
	syms, err := f.Symbols()
	if err != nil {
		bi.log.WithError(err).Debug("no symbol table")
		return
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Size == 0 {
			continue
		}
		bi.symbols = append(bi.symbols, Function{Name: sym.Name, Entry: sym.Value, End: sym.Value + sym.Size})
	}
	sort.Slice(bi.symbols, func(i, j int) bool { return bi.symbols[i].Entry < bi.symbols[j].Entry })
}

func functionAt(fns []Function, pc uint64) *Function {
	i := sort.Search(len(fns), func(i int) bool { return fns[i].Entry > pc }) - 1
	if i < 0 || pc >= fns[i].End {
		return nil
	}
	return &fns[i]
}

// FunctionNameAt returns the name of the function containing pc.
func (bi *BinaryInfo) FunctionNameAt(pc uint64) (string, bool) {
	if fn := functionAt(bi.functions, pc); fn != nil {
		return fn.Name, true
	}
	if fn := functionAt(bi.symbols, pc); fn != nil {
		return fn.Name, true
	}
	return "", false
}

// FunctionEntryAt returns the entry address of the function containing pc.
func (bi *BinaryInfo) FunctionEntryAt(pc uint64) (uint64, bool) {
	if fn := functionAt(bi.functions, pc); fn != nil {
		return fn.Entry, true
	}
	if fn := functionAt(bi.symbols, pc); fn != nil {
		return fn.Entry, true
	}
	return 0, false
}

// SourceLineAt returns the source location of the instruction at pc.
func (bi *BinaryInfo) SourceLineAt(pc uint64) (Location, bool) {
	if v, ok := bi.pcCache.Get(pc); ok {
		l := v.(pcLookup)
		return l.loc, l.ok
	}
	loc, ok := bi.sourceLineAt(pc)
	bi.pcCache.Add(pc, pcLookup{loc, ok})
	return loc, ok
}

func (bi *BinaryInfo) sourceLineAt(pc uint64) (Location, bool) {
	i := sort.Search(len(bi.rows), func(i int) bool { return bi.rows[i].addr > pc }) - 1
	if i < 0 {
		return Location{}, false
	}
	row := bi.rows[i]
	if row.endSeq || row.line == 0 || row.file == "" {
		return Location{}, false
	}
	return Location{File: row.file, Line: row.line}, true
}

func fileMatches(want, have string) bool {
	if want == "" {
		return true
	}
	want = filepath.Clean(want)
	if have == want {
		return true
	}
	if !filepath.IsAbs(want) {
		return strings.HasSuffix(have, string(filepath.Separator)+want)
	}
	return false
}

// AddressForLine returns the lowest statement address generated for line.
// If file is empty lines of each compile unit's own source file are
// preferred over lines of included files.
func (bi *BinaryInfo) AddressForLine(file string, line int) (uint64, bool) {
	var best, fallback uint64
	var found, foundFallback bool
	for _, row := range bi.rows {
		if row.endSeq || !row.isStmt || row.line != line || !fileMatches(file, row.file) {
			continue
		}
		if file == "" && row.file != row.cuFile {
			if !foundFallback || row.addr < fallback {
				fallback, foundFallback = row.addr, true
			}
			continue
		}
		if !found || row.addr < best {
			best, found = row.addr, true
		}
	}
	if found {
		return best, true
	}
	return fallback, foundFallback
}

// AddressForFunction returns the address of the first instruction after
// the prologue of the named function. If file is not empty the function
// must belong to a compile unit for that file.
func (bi *BinaryInfo) AddressForFunction(file, name string) (uint64, bool) {
	for i := range bi.functions {
		fn := &bi.functions[i]
		if fn.Name != name || !fileMatches(file, fn.File) {
			continue
		}
		return bi.firstPCAfterPrologue(fn), true
	}
	if file != "" {
		return 0, false
	}
	for _, fn := range bi.symbols {
		if fn.Name == name {
			return fn.Entry, true
		}
	}
	return 0, false
}

// firstPCAfterPrologue returns the address marked prologue_end, or the
// address of the second source line of fn, or fn.Entry.
func (bi *BinaryInfo) firstPCAfterPrologue(fn *Function) uint64 {
	start := sort.Search(len(bi.rows), func(i int) bool { return bi.rows[i].addr >= fn.Entry })
	var rows []lineRow
	for i := start; i < len(bi.rows) && bi.rows[i].addr < fn.End; i++ {
		if !bi.rows[i].endSeq {
			rows = append(rows, bi.rows[i])
		}
	}
	for _, row := range rows {
		if row.prologueEnd {
			return row.addr
		}
	}
	if len(rows) == 0 {
		return fn.Entry
	}
	for _, row := range rows[1:] {
		if row.isStmt && row.addr > fn.Entry && row.line != rows[0].line {
			return row.addr
		}
	}
	return fn.Entry
}

// FunctionNames returns the distinct names of functions with debug info.
func (bi *BinaryInfo) FunctionNames() []string {
	seen := make(map[string]bool, len(bi.functions))
	names := make([]string, 0, len(bi.functions))
	for _, fn := range bi.functions {
		if !seen[fn.Name] {
			seen[fn.Name] = true
			names = append(names, fn.Name)
		}
	}
	sort.Strings(names)
	return names
}
