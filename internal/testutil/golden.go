package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"
)

// updateGolden rewrites golden files instead of comparing against them.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// CompareGolden compares got with the golden file name, failing with a diff
// on mismatch. With -update the golden file is rewritten instead.
func CompareGolden(t *testing.T, fixture *Fixture, name string, got []byte) {
	t.Helper()

	goldenPath := fixture.ExpectedPath(name)
	if *updateGolden {
		UpdateGolden(t, fixture, name, got)
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, got, t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(got, expected) {
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			name, lineDiff(string(expected), string(got), goldenPath), t.Name())
	}
}

// CompareGoldenJSON normalizes v (see Normalize) and compares its indented
// JSON form with the golden file name.
func CompareGoldenJSON(t *testing.T, fixture *Fixture, name string, v any) {
	t.Helper()
	CompareGolden(t, fixture, name, MarshalNormalized(t, fixture, v))
}

// UpdateGolden writes data to the golden file, creating expected/ if needed.
func UpdateGolden(t *testing.T, fixture *Fixture, name string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(fixture.ExpectedDir, 0o755); err != nil {
		t.Fatalf("Failed to create expected directory: %v", err)
	}
	if err := os.WriteFile(fixture.ExpectedPath(name), data, 0o644); err != nil {
		t.Fatalf("Failed to write golden file: %v", err)
	}
}

// lineDiff lists the lines that differ, with their line numbers. It is
// meant for failure messages, not as a minimal diff.
func lineDiff(expected, got, path string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s (expected)\n+++ %s (got)\n", path, path)

	exp := strings.Split(expected, "\n")
	act := strings.Split(got, "\n")
	n := len(exp)
	if len(act) > n {
		n = len(act)
	}
	for i := 0; i < n; i++ {
		var e, a string
		eok, aok := i < len(exp), i < len(act)
		if eok {
			e = exp[i]
		}
		if aok {
			a = act[i]
		}
		if eok && aok && e == a {
			continue
		}
		if eok {
			fmt.Fprintf(&buf, "%4d -%s\n", i+1, e)
		}
		if aok {
			fmt.Fprintf(&buf, "%4d +%s\n", i+1, a)
		}
	}
	return buf.String()
}
