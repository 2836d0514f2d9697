package patch

import (
	"reflect"
	"strings"
	"testing"

	"skref/internal/errors"
	"skref/internal/section"
)

const patchFile = `# SKILL.patch.md
Project-specific adjustments.

## PATCH: hooks/duplicate-check
<!-- ACTION: insert-after "check enabled" -->
exclude: fixtures

## PATCH: hooks
<!-- ACTION: delete-section "triage" -->

## PATCH: commands
Default action is append.

## EXTEND: commands
<!-- ACTION: replace-section -->
` + "```" + `
## PATCH: inside a fence is body
` + "```" + `
`

func TestParseFile(t *testing.T) {
	ops, err := ParseFile(patchFile)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	want := []Op{
		{Action: InsertAfter, Path: section.Path{"hooks", "duplicate-check"}, Marker: "check enabled", Lines: []string{"exclude: fixtures"}},
		{Action: DeleteSection, Path: section.Path{"hooks", "triage"}},
		{Action: Append, Path: section.Path{"commands"}, Lines: []string{"Default action is append."}},
		{Action: ReplaceSection, Path: section.Path{"commands"}, Lines: []string{"```", "## PATCH: inside a fence is body", "```"}},
	}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ParseFile() =\n%+v\nwant\n%+v", ops, want)
	}
}

func TestParseFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantMsg string
	}{
		{"unknown action", "## PATCH: a\n<!-- ACTION: rewrite -->\nx\n", "unknown action"},
		{"insert without marker", "## PATCH: a\n<!-- ACTION: insert-after -->\nx\n", "quoted marker"},
		{"malformed action comment", "## PATCH: a\n<!-- ACTION insert-after \"m\" -->\nx\n", "malformed ACTION"},
		{"append without path", "## PATCH: \nx\n", "requires a section path"},
		{"open fence", "## PATCH: a\n```\nx\n", "never closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.text)
			if err == nil {
				t.Fatal("ParseFile() expected error")
			}
			if errors.CodeOf(err) != errors.InvalidLayer {
				t.Errorf("code = %v, want INVALID_LAYER", errors.CodeOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseFileIgnoresHeaderAndEmptyInput(t *testing.T) {
	for _, text := range []string{"", "# just a title\nnotes\n"} {
		ops, err := ParseFile(text)
		if err != nil || len(ops) != 0 {
			t.Errorf("ParseFile(%q) = %v, %v; want no ops", text, ops, err)
		}
	}
}

func TestFormatParsesBack(t *testing.T) {
	ops := []Op{
		NewInsertAfter("hooks/duplicate-check", "check enabled", "exclude: fixtures"),
		NewInsertBefore("", "Run the", "Read first."),
		NewReplaceSection("hooks/triage", "- assign owner", "", "- close stale"),
		NewDeleteSection("commands/legacy"),
		NewPrepend("commands", "note"),
	}

	text := Format(ops, KeywordExtend)
	if !strings.Contains(text, "## EXTEND: hooks/duplicate-check\n<!-- ACTION: insert-after \"check enabled\" -->\n") {
		t.Errorf("Format() =\n%s", text)
	}

	parsed, err := ParseFile(text)
	if err != nil {
		t.Fatalf("ParseFile(Format()) error = %v", err)
	}
	if !reflect.DeepEqual(parsed, ops) {
		t.Errorf("ParseFile(Format()) =\n%+v\nwant\n%+v", parsed, ops)
	}
}

func TestActionAdditive(t *testing.T) {
	additive := map[Action]bool{
		Append:         true,
		Prepend:        true,
		InsertAfter:    true,
		InsertBefore:   true,
		ReplaceSection: false,
		DeleteSection:  false,
	}
	for a, want := range additive {
		if got := a.Additive(); got != want {
			t.Errorf("%s.Additive() = %v, want %v", a, got, want)
		}
	}
	if _, err := ParseAction("merge"); err == nil {
		t.Error("ParseAction(merge) should fail")
	}
}
