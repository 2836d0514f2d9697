package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"skref/internal/config"
	"skref/internal/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"usage", usageError{fmt.Errorf("bad flag")}, exitInput},
		{"config", &config.ConfigError{Field: "tracker.threshold", Message: "must be at least 2"}, exitInput},
		{"parse", errors.Newf(errors.MalformedDocument, "unterminated fence"), exitInput},
		{"patch", errors.Newf(errors.MarkerNotFound, "no match"), exitInput},
		{"validation", errors.Newf(errors.PatternNotFound, "p-1"), exitInput},
		{"resolution", errors.Newf(errors.BaseDocumentMissing, "doc"), exitResolution},
		{"concurrency", errors.Newf(errors.LockTimeout, "base"), exitConcurrency},
		{"promotion", errors.Newf(errors.PatternNotReady, "p-1"), exitPromotion},
		{"wrapped", fmt.Errorf("resolve: %w", errors.Newf(errors.OverrideConflict, "two")), exitResolution},
		{"storage", errors.Newf(errors.StorageError, "disk"), exitInternal},
		{"plain", fmt.Errorf("boom"), exitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReportErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	err := errors.Newf(errors.MarkerNotFound, "marker %q not found", "check enabled").
		WithDetails(errors.PatchDetails{OpIndex: 2, Action: "insert-after", Marker: "check enabled"})
	reportError(&buf, err, FormatJSON)

	var got struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				OpIndex int    `json:"opIndex"`
				Marker  string `json:"marker"`
			} `json:"details"`
		} `json:"error"`
		Exit int `json:"exitCode"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got.Error.Code != "MARKER_NOT_FOUND" || got.Exit != exitInput {
		t.Errorf("got %+v", got)
	}
	if got.Error.Details.OpIndex != 2 || got.Error.Details.Marker != "check enabled" {
		t.Errorf("details = %+v", got.Error.Details)
	}
}

func TestReportErrorJSONPlainError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, usageError{fmt.Errorf("accepts 1 arg(s)")}, FormatJSON)
	if !strings.Contains(buf.String(), `"code": "INVALID_OPERATION"`) {
		t.Errorf("usage error should report INVALID_OPERATION:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `"exitCode": 2`) {
		t.Errorf("missing exit code:\n%s", buf.String())
	}
}

func TestReportErrorHuman(t *testing.T) {
	var buf bytes.Buffer
	err := errors.Newf(errors.AmbiguousMarker, "marker matched 2 lines").
		WithDetails(errors.PatchDetails{OpIndex: 0, Action: "insert-before", Tier: "project-local", Layer: "SKILL.patch.md"})
	reportError(&buf, err, FormatHuman)

	out := buf.String()
	if !strings.HasPrefix(out, "Error: ") {
		t.Errorf("output should start with Error:\n%s", out)
	}
	if !strings.Contains(out, "operation #0 (insert-before) in project-local layer SKILL.patch.md") {
		t.Errorf("missing operation location:\n%s", out)
	}
}

func TestReportErrorHumanLayerOnly(t *testing.T) {
	var buf bytes.Buffer
	err := errors.Newf(errors.OverrideConflict, "ProjectShared declares 2 full overrides").
		WithDetails(errors.PatchDetails{Tier: "ProjectShared", Layer: "SKILL.md,SKILL.full.md"})
	reportError(&buf, err, FormatHuman)

	out := buf.String()
	if strings.Contains(out, "operation #") {
		t.Errorf("layer-level error should not name an operation:\n%s", out)
	}
	if !strings.Contains(out, "  in ProjectShared layer SKILL.md,SKILL.full.md") {
		t.Errorf("missing layer location:\n%s", out)
	}
}

func TestReportErrorHumanSuggestsFix(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, errors.Newf(errors.CanonicalEditMissing, "pattern p-1 has no canonical edit"), FormatHuman)
	if !strings.Contains(buf.String(), "try: skref canonical") {
		t.Errorf("missing suggested command:\n%s", buf.String())
	}
}
