// Package tracker turns committed refinements into frequency-tracked
// patterns and decides when a pattern is ready for promotion.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"skref/internal/errors"
	"skref/internal/layers"
	"skref/internal/ledger"
	"skref/internal/patch"
)

// MinThreshold is the smallest number of distinct projects that can make
// a pattern ready.
const MinThreshold = 2

// RefinementInput is a committed edit reported by a caller.
type RefinementInput struct {
	ProjectID    string `json:"projectId" validate:"required,max=256"`
	DocumentID   string `json:"documentId" validate:"required,docid"`
	Category     string `json:"category" validate:"required,max=64"`
	OverrideKind string `json:"overrideKind" validate:"required,oneof=patch extend config full hook script"`
	// Diff is a unified diff or the literal lines of the edit.
	Diff    string `json:"diff" validate:"required,max=65536"`
	Summary string `json:"summary,omitempty" validate:"max=1024"`
	Name    string `json:"name,omitempty" validate:"max=120"`
	// Variables are project-specific literals masked before fingerprinting.
	Variables []string `json:"variables,omitempty" validate:"dive,max=512"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("docid", func(fl validator.FieldLevel) bool {
		return layers.ValidateDocumentID(fl.Field().String()) == nil
	})
}

// Validate checks the input's fields.
func (in *RefinementInput) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewSkrefError(errors.InvalidRefinement, "invalid refinement", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return errors.Newf(errors.InvalidRefinement, "invalid refinement: %s", strings.Join(fields, ", "))
}

// Transition is a status change caused by a write.
type Transition struct {
	From ledger.Status `json:"from"`
	To   ledger.Status `json:"to"`
}

// UpdateResult reports what recording a refinement did.
type UpdateResult struct {
	Refinement ledger.Refinement `json:"refinement"`
	Pattern    ledger.Pattern    `json:"pattern"`
	Created    bool              `json:"created"`
	// Counted is false when the project had already contributed to the pattern.
	Counted    bool        `json:"counted"`
	Transition *Transition `json:"transition,omitempty"`
}

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Refinements int `json:"refinements"`
	Patterns    int `json:"patterns"`
	Ready       int `json:"ready"`
}

// Tracker records refinements in the ledger.
type Tracker struct {
	db        *ledger.DB
	threshold int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Tracker. Thresholds below MinThreshold are raised to it.
func New(db *ledger.DB, threshold int, logger *slog.Logger) *Tracker {
	if threshold < MinThreshold {
		threshold = MinThreshold
	}
	return &Tracker{db: db, threshold: threshold, logger: logger, now: time.Now}
}

// Threshold returns the promotion threshold in distinct projects.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Record appends a refinement to the log and folds it into its pattern.
// Both writes commit together under the ledger's write lock.
func (t *Tracker) Record(ctx context.Context, in RefinementInput) (*UpdateResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	normalized, err := Normalize(in.Diff, in.Variables)
	if err != nil {
		return nil, errors.NewSkrefError(errors.InvalidRefinement, "unreadable diff", err)
	}
	if normalized == "" {
		return nil, errors.Newf(errors.InvalidRefinement, "diff is empty after normalization")
	}

	category := strings.ToLower(strings.TrimSpace(in.Category))
	patternID := PatternID(category, in.DocumentID, normalized)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultName(normalized)
	}

	var result *UpdateResult
	err = t.db.Update(ctx, func(tx *ledger.Txn) error {
		now := t.now().UTC()
		id, err := tx.NextRefinementID(now)
		if err != nil {
			return err
		}
		ref := ledger.Refinement{
			ID:             id,
			Timestamp:      now,
			ProjectID:      in.ProjectID,
			DocumentID:     in.DocumentID,
			Category:       category,
			OverrideKind:   in.OverrideKind,
			PatternID:      patternID,
			PatternName:    name,
			DiffSummary:    in.Summary,
			NormalizedDiff: normalized,
		}
		if err := tx.AppendRefinement(&ref); err != nil {
			return err
		}

		existing, err := tx.Pattern(patternID)
		if err != nil && !errors.Is(err, errors.PatternNotFound) {
			return err
		}
		p, counted, transition := fold(existing, ref, t.threshold)
		if err := tx.SavePattern(p); err != nil {
			return err
		}
		result = &UpdateResult{
			Refinement: ref,
			Pattern:    *p,
			Created:    existing == nil,
			Counted:    counted,
			Transition: transition,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("Refinement recorded",
		"refinement", result.Refinement.ID,
		"pattern", patternID,
		"project", in.ProjectID,
		"document", in.DocumentID,
		"count", result.Pattern.Count,
		"status", string(result.Pattern.Status))
	if result.Transition != nil {
		t.logger.Info("Pattern ready for promotion", "pattern", patternID, "count", result.Pattern.Count)
	}
	return result, nil
}

// fold applies one refinement to a pattern aggregate. existing may be nil.
// count is the number of distinct projects; a project seen before adds its
// document but does not count again.
func fold(existing *ledger.Pattern, r ledger.Refinement, threshold int) (*ledger.Pattern, bool, *Transition) {
	var p ledger.Pattern
	if existing == nil {
		p = ledger.Pattern{
			ID:             r.PatternID,
			Name:           r.PatternName,
			Category:       r.Category,
			NormalizedDiff: r.NormalizedDiff,
			Status:         ledger.StatusTracking,
			CreatedAt:      r.Timestamp,
		}
	} else {
		p = *existing
		p.Projects = append([]string(nil), existing.Projects...)
		p.Documents = append([]string(nil), existing.Documents...)
	}
	p.UpdatedAt = r.Timestamp

	p.Documents = addToSet(p.Documents, r.DocumentID)
	before := len(p.Projects)
	p.Projects = addToSet(p.Projects, r.ProjectID)
	counted := len(p.Projects) > before
	p.Count = len(p.Projects)

	var transition *Transition
	if p.Status == ledger.StatusTracking && p.Count >= threshold {
		transition = &Transition{From: p.Status, To: ledger.StatusReady}
		p.Status = ledger.StatusReady
	}
	return &p, counted, transition
}

func addToSet(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

// Get returns one pattern.
func (t *Tracker) Get(ctx context.Context, patternID string) (*ledger.Pattern, error) {
	var p *ledger.Pattern
	err := t.db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		p, err = tx.Pattern(patternID)
		return err
	})
	return p, err
}

// List returns patterns matching filter, most frequent first.
func (t *Tracker) List(ctx context.Context, filter ledger.PatternFilter) ([]ledger.Pattern, error) {
	var out []ledger.Pattern
	err := t.db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		out, err = tx.Patterns(filter)
		return err
	})
	return out, err
}

// Refinements returns the log entries of one pattern, or of all patterns
// when patternID is empty.
func (t *Tracker) Refinements(ctx context.Context, patternID string) ([]ledger.Refinement, error) {
	var out []ledger.Refinement
	err := t.db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		out, err = tx.Refinements(patternID)
		return err
	})
	return out, err
}

// Dismiss marks a pattern Dismissed from any state. Dismissal is terminal.
// Dismissing a generalized pattern keeps its promotion history.
func (t *Tracker) Dismiss(ctx context.Context, patternID, reason string) (*ledger.Pattern, error) {
	var p *ledger.Pattern
	err := t.db.Update(ctx, func(tx *ledger.Txn) error {
		var err error
		p, err = tx.Pattern(patternID)
		if err != nil {
			return err
		}
		p.Status = ledger.StatusDismissed
		p.DismissReason = strings.TrimSpace(reason)
		p.UpdatedAt = t.now().UTC()
		return tx.SavePattern(p)
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Pattern dismissed", "pattern", patternID, "reason", p.DismissReason)
	return p, nil
}

// SetCanonicalEdit stores the reviewed patch-file text a pattern promotes.
// The text must parse as a patch file.
func (t *Tracker) SetCanonicalEdit(ctx context.Context, patternID, text string) error {
	ops, err := patch.ParseFile(text)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return errors.Newf(errors.InvalidOperation, "canonical edit for %s contains no patch blocks", patternID)
	}
	err = t.db.Update(ctx, func(tx *ledger.Txn) error {
		if _, err := tx.Pattern(patternID); err != nil {
			return err
		}
		return tx.SetCanonicalEdit(&ledger.CanonicalEdit{
			PatternID: patternID,
			PatchText: text,
			UpdatedAt: t.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	t.logger.Info("Canonical edit stored", "pattern", patternID, "operations", len(ops))
	return nil
}

// Rebuild discards every pattern aggregate and replays the refinement log.
// Terminal states cannot be derived from the log: dismissals are carried
// over from the aggregates being replaced, generalizations from the
// promotion history.
func (t *Tracker) Rebuild(ctx context.Context) (*RebuildStats, error) {
	stats := &RebuildStats{}
	err := t.db.Update(ctx, func(tx *ledger.Txn) error {
		previous, err := tx.Patterns(ledger.PatternFilter{})
		if err != nil {
			return err
		}
		terminal := map[string]ledger.Pattern{}
		for _, p := range previous {
			if p.Status.Terminal() {
				terminal[p.ID] = p
			}
		}
		promotions, err := tx.Promotions("")
		if err != nil {
			return err
		}
		for _, pr := range promotions {
			if _, ok := terminal[pr.PatternID]; !ok {
				terminal[pr.PatternID] = ledger.Pattern{Status: ledger.StatusGeneralized}
			}
		}

		refinements, err := tx.Refinements("")
		if err != nil {
			return err
		}
		if err := tx.ResetPatterns(); err != nil {
			return err
		}

		patterns := map[string]*ledger.Pattern{}
		var order []string
		for _, r := range refinements {
			if err := ctx.Err(); err != nil {
				return err
			}
			existing := patterns[r.PatternID]
			if existing == nil {
				order = append(order, r.PatternID)
				if prev, ok := terminal[r.PatternID]; ok {
					seed, _, _ := fold(nil, r, t.threshold)
					seed.Status = prev.Status
					seed.DismissReason = prev.DismissReason
					patterns[r.PatternID] = seed
					continue
				}
			}
			p, _, _ := fold(existing, r, t.threshold)
			patterns[r.PatternID] = p
		}

		for _, id := range order {
			p := patterns[id]
			if err := tx.SavePattern(p); err != nil {
				return err
			}
			if p.Status == ledger.StatusReady {
				stats.Ready++
			}
		}
		stats.Refinements = len(refinements)
		stats.Patterns = len(order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Patterns rebuilt from refinement log",
		"refinements", stats.Refinements, "patterns", stats.Patterns, "ready", stats.Ready)
	return stats, nil
}
