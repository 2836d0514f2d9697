package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Status is a pattern's lifecycle state.
type Status string

const (
	StatusTracking    Status = "tracking"
	StatusReady       Status = "ready"
	StatusGeneralized Status = "generalized"
	StatusDismissed   Status = "dismissed"
)

// ParseStatus converts a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusTracking, StatusReady, StatusGeneralized, StatusDismissed:
		return st, nil
	}
	return "", fmt.Errorf("unknown pattern status %q (want tracking, ready, generalized or dismissed)", s)
}

// Terminal reports whether the status is never left automatically.
func (s Status) Terminal() bool {
	return s == StatusGeneralized || s == StatusDismissed
}

// Refinement is one immutable entry of the refinement log.
type Refinement struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ProjectID      string    `json:"projectId"`
	DocumentID     string    `json:"documentId"`
	Category       string    `json:"category"`
	OverrideKind   string    `json:"overrideKind"`
	PatternID      string    `json:"patternId"`
	PatternName    string    `json:"patternName"`
	DiffSummary    string    `json:"diffSummary"`
	NormalizedDiff string    `json:"normalizedDiff"`
}

// Pattern is the aggregate of every refinement sharing a fingerprint.
type Pattern struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	NormalizedDiff string    `json:"normalizedDiff"`
	Count          int       `json:"count"`
	Documents      []string  `json:"affectedDocuments"`
	Projects       []string  `json:"affectedProjects"`
	Status         Status    `json:"status"`
	DismissReason  string    `json:"dismissReason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CanonicalEdit is the reviewed patch-file text a pattern promotes.
type CanonicalEdit struct {
	PatternID string    `json:"patternId"`
	PatchText string    `json:"patchText"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Promotion links a pattern to the base version it produced.
type Promotion struct {
	ID            string    `json:"id"`
	PatternID     string    `json:"patternId"`
	DocumentID    string    `json:"documentId"`
	BeforeVersion int       `json:"beforeVersion"`
	AfterVersion  int       `json:"afterVersion"`
	PromotedAt    time.Time `json:"promotedAt"`
}

// PatternFilter narrows ListPatterns. Zero values match everything.
type PatternFilter struct {
	Status     Status
	Category   string
	DocumentID string
	ProjectID  string
}
