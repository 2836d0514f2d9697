// Package promote merges a Ready pattern's canonical edit into the base
// documents it affects.
//
// A promotion holds the base tier write lock for its whole duration. Every
// document is backed up before it is rewritten; if any document fails, the
// ones already written are restored and the ledger is left untouched.
package promote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"skref/internal/basestore"
	"skref/internal/errors"
	"skref/internal/ledger"
	"skref/internal/patch"
	"skref/internal/section"
)

// DocumentResult is the version change of one promoted document.
type DocumentResult struct {
	DocumentID    string `json:"documentId"`
	BeforeVersion int    `json:"beforeVersion"`
	AfterVersion  int    `json:"afterVersion"`
}

// Result is the outcome of a successful promotion.
type Result struct {
	PatternID  string             `json:"patternId"`
	Documents  []DocumentResult   `json:"documents"`
	Promotions []ledger.Promotion `json:"promotions"`
}

// Promoter runs promotions against one ledger and one base tier.
type Promoter struct {
	db     *ledger.DB
	base   *basestore.Store
	opts   patch.Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Promoter.
func New(db *ledger.DB, base *basestore.Store, opts patch.Options, logger *slog.Logger) *Promoter {
	return &Promoter{db: db, base: base, opts: opts, logger: logger, now: time.Now}
}

// Promote applies the pattern's canonical edit to every affected base
// document, bumps their versions, marks the pattern Generalized and records
// the history. inline, when non-empty, replaces the stored canonical edit and
// is stored on success.
func (p *Promoter) Promote(ctx context.Context, patternID, inline string) (*Result, error) {
	start := p.now()

	pat, text, err := p.prepare(ctx, patternID, inline)
	if err != nil {
		return nil, err
	}
	ops, err := patch.ParseFile(text)
	if err != nil {
		return nil, errors.Wrapf(err, "canonical edit for %s", patternID)
	}
	if len(ops) == 0 {
		return nil, errors.Newf(errors.CanonicalEditMissing, "canonical edit for %s contains no patch blocks", patternID)
	}

	w, err := p.base.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	docs := append([]string(nil), pat.Documents...)
	sort.Strings(docs)

	result := &Result{PatternID: patternID}
	for _, id := range docs {
		dr, err := p.promoteDocument(ctx, w, id, patternID, ops)
		if err != nil {
			return nil, p.abort(w, patternID, id, err)
		}
		result.Documents = append(result.Documents, *dr)
	}

	promotedAt := p.now().UTC()
	err = p.db.Update(ctx, func(tx *ledger.Txn) error {
		current, err := tx.Pattern(patternID)
		if err != nil {
			return err
		}
		if current.Status != ledger.StatusReady {
			return errors.Newf(errors.PatternNotReady, "pattern %s changed to %s during promotion", patternID, current.Status)
		}
		current.Status = ledger.StatusGeneralized
		current.UpdatedAt = promotedAt
		if err := tx.SavePattern(current); err != nil {
			return err
		}
		if inline != "" {
			if err := tx.SetCanonicalEdit(&ledger.CanonicalEdit{PatternID: patternID, PatchText: inline, UpdatedAt: promotedAt}); err != nil {
				return err
			}
		}
		result.Promotions = result.Promotions[:0]
		for _, d := range result.Documents {
			pr := ledger.Promotion{
				ID:            uuid.New().String(),
				PatternID:     patternID,
				DocumentID:    d.DocumentID,
				BeforeVersion: d.BeforeVersion,
				AfterVersion:  d.AfterVersion,
				PromotedAt:    promotedAt,
			}
			if err := tx.AddPromotion(&pr); err != nil {
				return err
			}
			result.Promotions = append(result.Promotions, pr)
		}
		return nil
	})
	if err != nil {
		return nil, p.abort(w, patternID, "", err)
	}

	p.logger.Info("Pattern promoted",
		"pattern", patternID,
		"documents", len(result.Documents),
		"duration", time.Since(start).String())
	return result, nil
}

// prepare checks the preconditions and returns the edit text to promote.
func (p *Promoter) prepare(ctx context.Context, patternID, inline string) (*ledger.Pattern, string, error) {
	var pat *ledger.Pattern
	text := inline
	err := p.db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		pat, err = tx.Pattern(patternID)
		if err != nil {
			return err
		}
		if pat.Status != ledger.StatusReady {
			return errors.Newf(errors.PatternNotReady, "pattern %s is %s, not ready", patternID, pat.Status).
				WithDetails(map[string]any{"count": pat.Count, "status": string(pat.Status)})
		}
		if text != "" {
			return nil
		}
		edit, err := tx.CanonicalEdit(patternID)
		if err != nil {
			return err
		}
		if edit == nil {
			return errors.Newf(errors.CanonicalEditMissing, "pattern %s has no canonical edit", patternID)
		}
		text = edit.PatchText
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if len(pat.Documents) == 0 {
		return nil, "", errors.Newf(errors.InvalidOperation, "pattern %s affects no documents", patternID)
	}
	return pat, text, nil
}

func (p *Promoter) promoteDocument(ctx context.Context, w *basestore.Writer, id, patternID string, ops []patch.Op) (*DocumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, before, err := w.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := patch.Apply(doc, ops, p.opts)
	if err != nil {
		return nil, err
	}
	after, err := w.Write(id, []byte(section.Render(next)), patternID)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Promoted document", "pattern", patternID, "document", id,
		"version", after.Version)
	return &DocumentResult{DocumentID: id, BeforeVersion: before.Version, AfterVersion: after.Version}, nil
}

// abort rolls the base tier back and reports the failure as PROMOTION_FAILED.
// Errors raised before any mutation keep their own code.
func (p *Promoter) abort(w *basestore.Writer, patternID, documentID string, cause error) error {
	rbErr := w.Rollback()
	if rbErr != nil {
		p.logger.Error("Promotion rollback failed", "pattern", patternID, "error", rbErr.Error())
	}

	msg := fmt.Sprintf("promotion of %s failed", patternID)
	if documentID != "" {
		msg = fmt.Sprintf("promotion of %s failed on document %s", patternID, documentID)
	}
	if rbErr != nil {
		msg += fmt.Sprintf(" and rollback failed: %v", rbErr)
	} else {
		msg += "; base documents rolled back"
	}

	details := map[string]any{"pattern": patternID, "rolledBack": rbErr == nil}
	if documentID != "" {
		details["document"] = documentID
	}
	if se, ok := errors.As(cause); ok {
		details["cause"] = string(se.Code)
		if pd, ok := se.Details.(errors.PatchDetails); ok {
			details["operation"] = pd
		}
	}
	p.logger.Warn("Promotion aborted", "pattern", patternID, "document", documentID, "error", cause.Error())
	return errors.NewSkrefError(errors.PromotionFailed, msg, cause).WithDetails(details)
}
