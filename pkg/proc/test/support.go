package test

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Source is the absolute path of the test binary source.
	Source string
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)

var fixturesMu sync.Mutex

// FindFixturesDir returns the path of the _fixtures directory, looking in
// the current directory and its parents.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

func compiler() string {
	if cc := os.Getenv("CC"); cc != "" {
		return cc
	}
	return "cc"
}

// BuildFixture compiles _fixtures/<name>.c with debug info and frame
// pointers. The test is skipped if native debugging is not supported on
// this platform or no C compiler is installed.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("native debugging is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	cc, err := exec.LookPath(compiler())
	if err != nil {
		t.Skipf("no C compiler: %v", err)
	}

	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := Fixtures[name]; ok {
		return f
	}

	source, err := filepath.Abs(filepath.Join(FindFixturesDir(), name+".c"))
	if err != nil {
		t.Fatal(err)
	}

	// Make a (good enough) random temporary file name
	r := make([]byte, 4)
	rand.Read(r)
	tmpfile := filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", name, hex.EncodeToString(r)))

	cmd := exec.Command(cc, "-g", "-O0", "-fno-omit-frame-pointer", "-no-pie", "-o", tmpfile, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Error compiling %s: %v\n%s", source, err, out)
	}

	Fixtures[name] = Fixture{Name: name, Path: tmpfile, Source: source}
	return Fixtures[name]
}

// RunTestsWithFixtures runs the tests and deletes the compiled fixtures
// before returning.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	// Remove the fixtures.
	fixturesMu.Lock()
	for _, f := range Fixtures {
		os.Remove(f.Path)
	}
	fixturesMu.Unlock()
	return status
}

// LineOf returns the number of the first line of the fixture's source
// containing marker.
func LineOf(t testing.TB, f Fixture, marker string) int {
	t.Helper()
	fh, err := os.Open(f.Source)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	s := bufio.NewScanner(fh)
	for line := 1; s.Scan(); line++ {
		if strings.Contains(s.Text(), marker) {
			return line
		}
	}
	t.Fatalf("%q not found in %s", marker, f.Source)
	return 0
}

// SkipIfPtraceDenied skips the test if err means the environment does not
// allow this process to trace its children.
func SkipIfPtraceDenied(t testing.TB, err error) {
	t.Helper()
	if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOSYS) {
		t.Skipf("ptrace not permitted: %v", err)
	}
}
