package testutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// volatileFields are dropped before comparison: they differ on every run.
var volatileFields = map[string]bool{
	"timestamp":  true,
	"createdAt":  true,
	"updatedAt":  true,
	"promotedAt": true,
	"duration":   true,
	"checksum":   true,
}

// Normalize turns v into plain JSON values with volatile fields removed
// and the fixture root and temp directory replaced by placeholders.
func Normalize(t *testing.T, fixture *Fixture, v any) any {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal data for normalization: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Failed to unmarshal data for normalization: %v", err)
	}

	var replacements []string
	if fixture != nil {
		replacements = append(replacements, fixture.Root, "<fixture>")
	}
	if tmp := os.TempDir(); tmp != "" {
		replacements = append(replacements, filepath.Clean(tmp), "<tmp>")
	}
	return normalizeValue(out, strings.NewReplacer(replacements...))
}

func normalizeValue(v any, r *strings.Replacer) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if volatileFields[k] {
				continue
			}
			out[k] = normalizeValue(item, r)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item, r)
		}
		return out
	case string:
		return filepath.ToSlash(r.Replace(val))
	default:
		return v
	}
}

// MarshalNormalized normalizes v and marshals it as two-space indented JSON
// with sorted keys and a trailing newline.
func MarshalNormalized(t *testing.T, fixture *Fixture, v any) []byte {
	t.Helper()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Normalize(t, fixture, v)); err != nil {
		t.Fatalf("Failed to marshal normalized data: %v", err)
	}
	return buf.Bytes()
}
