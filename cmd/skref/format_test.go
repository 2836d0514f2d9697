package main

import (
	"strings"
	"testing"
	"time"

	"skref/internal/basestore"
	"skref/internal/ledger"
	"skref/internal/resolve"
	"skref/internal/tier"
	"skref/internal/tracker"
)

func TestFormatResponse_JSON(t *testing.T) {
	resp := map[string]interface{}{
		"key": "value",
		"num": 42,
	}

	result, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, `"key": "value"`) {
		t.Error("JSON output missing expected key")
	}
	if !strings.Contains(result, `"num": 42`) {
		t.Error("JSON output missing expected number")
	}
}

func TestFormatResponse_UnsupportedFormat(t *testing.T) {
	_, err := FormatResponse(map[string]string{"key": "value"}, "xml")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("error should mention unsupported format, got: %v", err)
	}
	if exitCode(err) != exitInput {
		t.Errorf("unsupported format exit code = %d", exitCode(err))
	}
}

func TestFormatResolveHuman(t *testing.T) {
	resp := &ResolveResponse{
		DocumentID: "error-lifecycle",
		Document:   "# Error Lifecycle\n",
		Provenance: &resolve.Provenance{
			Document:    "error-lifecycle",
			BaseVersion: 3,
			Source:      tier.Base,
			Sections: []resolve.SectionOrigin{
				{Path: "Error Lifecycle", Tier: tier.Base},
				{Path: "Error Lifecycle/Hooks", Tier: tier.ProjectLocal, Removed: true},
			},
			Config: map[string]tier.Tier{"severity": tier.UserScope},
		},
	}

	plain, err := FormatResponse(resp, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	if plain != "# Error Lifecycle\n" {
		t.Errorf("without provenance got %q", plain)
	}

	resp.ShowProvenance = true
	out, err := FormatResponse(resp, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"--- provenance ---",
		"base v3",
		"Error Lifecycle/Hooks (removed)",
		"severity",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("provenance output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatResolveJSONOmitsDisplayFlag(t *testing.T) {
	resp := &ResolveResponse{DocumentID: "doc", Document: "# Doc\n", ShowProvenance: true}
	out, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "ShowProvenance") {
		t.Errorf("display flag leaked into JSON:\n%s", out)
	}
	if !strings.Contains(out, `"documentId": "doc"`) {
		t.Errorf("missing document id:\n%s", out)
	}
}

func TestFormatRecordHuman(t *testing.T) {
	resp := &RecordResponse{
		UpdateResult: &tracker.UpdateResult{
			Refinement: ledger.Refinement{ID: "ref-20261016-001"},
			Pattern:    ledger.Pattern{ID: "p-1", Name: "exclude fixtures", Status: ledger.StatusReady, Count: 2},
			Counted:    true,
			Transition: &tracker.Transition{From: ledger.StatusTracking, To: ledger.StatusReady},
		},
		Threshold: 2,
	}
	out, err := FormatResponse(resp, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ref-20261016-001", "ready (2 of 2 projects)", "tracking -> ready"} {
		if !strings.Contains(out, want) {
			t.Errorf("record output missing %q:\n%s", want, out)
		}
	}

	js, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js, `"threshold": 2`) || !strings.Contains(js, `"counted": true`) {
		t.Errorf("embedded result not flattened:\n%s", js)
	}
}

func TestFormatEmptyLists(t *testing.T) {
	tests := []struct {
		name string
		resp interface{}
		want string
	}{
		{"patterns", &PatternsResponse{}, "No patterns found."},
		{"history", &HistoryResponse{}, "No promotions recorded."},
		{"projects", &ProjectsResponse{}, "No projects registered."},
		{"base", &BaseListResponse{}, "No base documents."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := FormatResponse(tt.resp, FormatHuman)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("got %q, want %q", out, tt.want)
			}
		})
	}
}

func TestFormatBaseListHuman(t *testing.T) {
	resp := &BaseListResponse{Documents: []basestore.Entry{
		{ID: "error-lifecycle", Version: 2, PatternID: "p-1", UpdatedAt: time.Now()},
		{ID: "release", Version: 1},
	}}
	out, err := FormatResponse(resp, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasSuffix(lines[0], "(promoted p-1)") {
		t.Errorf("first line = %q", lines[0])
	}
	if f := strings.Fields(lines[1]); len(f) != 2 || f[0] != "release" || f[1] != "v1" {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestFormatHistoryHuman(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	resp := &HistoryResponse{Promotions: []ledger.Promotion{
		{PatternID: "p-1", DocumentID: "error-lifecycle", BeforeVersion: 1, AfterVersion: 2, PromotedAt: at},
	}}
	out, err := FormatResponse(resp, FormatHuman)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "2026-10-16 09:30:00") || !strings.Contains(out, "v1 -> v2") {
		t.Errorf("history output = %q", out)
	}
}
