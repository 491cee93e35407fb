package bininfo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deet-dbg/deet/pkg/bininfo"
	protest "github.com/deet-dbg/deet/pkg/proc/test"
)

func TestMain(m *testing.M) {
	os.Exit(protest.RunTestsWithFixtures(m))
}

func load(t *testing.T, name string) (*bininfo.BinaryInfo, protest.Fixture) {
	t.Helper()
	fixture := protest.BuildFixture(t, name)
	bi, err := bininfo.Load(fixture.Path)
	require.NoError(t, err)
	t.Cleanup(func() { bi.Close() })
	return bi, fixture
}

func TestFunctionLookups(t *testing.T) {
	bi, fixture := load(t, "nested")

	for _, name := range []string{"main", "foo", "bar"} {
		addr, ok := bi.AddressForFunction("", name)
		require.True(t, ok, name)
		fn, ok := bi.FunctionNameAt(addr)
		require.True(t, ok, name)
		assert.Equal(t, name, fn)

		entry, ok := bi.FunctionEntryAt(addr)
		require.True(t, ok, name)
		assert.Less(t, entry, addr, "%s breakpoint address should be past its entry", name)
		again, _ := bi.FunctionEntryAt(entry)
		assert.Equal(t, entry, again)

		loc, ok := bi.SourceLineAt(addr)
		require.True(t, ok, name)
		assert.Equal(t, filepath.Base(fixture.Source), filepath.Base(loc.File))
		assert.Equal(t, protest.LineOf(t, fixture, name+" body"), loc.Line, "%s should resolve past its prologue", name)
	}

	_, ok := bi.AddressForFunction("", "nosuchfunction")
	assert.False(t, ok)
	_, ok = bi.AddressForFunction("other.c", "foo")
	assert.False(t, ok)
	_, ok = bi.AddressForFunction("nested.c", "foo")
	assert.True(t, ok)
}

func TestLineLookups(t *testing.T) {
	bi, fixture := load(t, "nested")
	line := protest.LineOf(t, fixture, "foo body")

	addr, ok := bi.AddressForLine("", line)
	require.True(t, ok)
	fn, _ := bi.FunctionNameAt(addr)
	assert.Equal(t, "foo", fn)

	withFile, ok := bi.AddressForLine("nested.c", line)
	require.True(t, ok)
	assert.Equal(t, addr, withFile)

	withPath, ok := bi.AddressForLine(fixture.Source, line)
	require.True(t, ok)
	assert.Equal(t, addr, withPath)

	_, ok = bi.AddressForLine("", 2)
	assert.False(t, ok, "blank line has no code")
	_, ok = bi.AddressForLine("", 100000)
	assert.False(t, ok)
	_, ok = bi.AddressForLine("other.c", line)
	assert.False(t, ok)

	// cached lookups return the same answer
	for i := 0; i < 2; i++ {
		loc, ok := bi.SourceLineAt(addr)
		require.True(t, ok)
		assert.Equal(t, line, loc.Line)
		assert.Equal(t, "nested.c:"+itoa(line), filepath.Base(loc.String()))
	}
}

func TestUnknownAddress(t *testing.T) {
	bi, _ := load(t, "nested")
	_, ok := bi.FunctionNameAt(0x10)
	assert.False(t, ok)
	_, ok = bi.SourceLineAt(0x10)
	assert.False(t, ok)
	_, ok = bi.FunctionEntryAt(0x10)
	assert.False(t, ok)
}

func TestFunctionNames(t *testing.T) {
	bi, _ := load(t, "nested")
	names := bi.FunctionNames()
	assert.Subset(t, names, []string{"bar", "foo", "main"})
	assert.IsIncreasing(t, names)
}

func TestLoadErrors(t *testing.T) {
	_, err := bininfo.Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	notELF := filepath.Join(t.TempDir(), "text")
	require.NoError(t, os.WriteFile(notELF, []byte("not an executable"), 0o644))
	_, err = bininfo.Load(notELF)
	assert.Error(t, err)
}
