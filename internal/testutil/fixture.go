// Package testutil provides fixtures and golden-file helpers for tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Fixture is a directory under testdata/fixtures. Inputs live anywhere in
// it; golden files live in its expected/ directory.
type Fixture struct {
	Name        string
	Root        string
	ExpectedDir string
}

// LoadFixture loads testdata/fixtures/<name>, failing the test when it is missing.
func LoadFixture(t *testing.T, name string) *Fixture {
	t.Helper()

	root := filepath.Join(fixturesRoot(t), name)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("Fixture directory not found: %s", root)
	}
	return &Fixture{
		Name:        name,
		Root:        root,
		ExpectedDir: filepath.Join(root, "expected"),
	}
}

// Path joins slash-separated elements onto the fixture root.
func (f *Fixture) Path(elem ...string) string {
	parts := []string{f.Root}
	for _, e := range elem {
		parts = append(parts, filepath.FromSlash(e))
	}
	return filepath.Join(parts...)
}

// ExpectedPath returns the golden file path for name, extension included.
func (f *Fixture) ExpectedPath(name string) string {
	return filepath.Join(f.ExpectedDir, name)
}

// CopyTree copies the fixture subdirectory rel into a fresh temp directory
// and returns it, for tests that mutate their inputs.
func (f *Fixture) CopyTree(t *testing.T, rel string) string {
	t.Helper()

	src := f.Path(rel)
	dst := t.TempDir()
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		r, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, r)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
	if err != nil {
		t.Fatalf("Failed to copy fixture %s/%s: %v", f.Name, rel, err)
	}
	return dst
}

// fixturesRoot returns the absolute path to testdata/fixtures.
func fixturesRoot(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}
	// internal/testutil -> module root
	root := filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(thisFile))), "testdata", "fixtures")
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("Fixtures root not found: %s", root)
	}
	return root
}
