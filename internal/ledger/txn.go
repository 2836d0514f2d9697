package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"skref/internal/errors"
)

// Txn is a ledger transaction opened by View or Update.
type Txn struct {
	ctx context.Context
	q   Querier
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func storageErr(op string, err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return errors.NewSkrefError(errors.StorageError, op, err)
}

// refinementPrefix is REF-YYYY-MMDD- for the given day.
func refinementPrefix(t time.Time) string {
	return "REF-" + t.UTC().Format("2006-0102") + "-"
}

// NextRefinementID returns the next REF-YYYY-MMDD-NNN id for the day of now.
func (tx *Txn) NextRefinementID(now time.Time) (string, error) {
	prefix := refinementPrefix(now)
	var last int
	err := tx.q.QueryRowContext(tx.ctx, `
		SELECT COALESCE(MAX(CAST(substr(id, ?) AS INTEGER)), 0)
		FROM refinements WHERE id LIKE ?
	`, len(prefix)+1, prefix+"%").Scan(&last)
	if err != nil {
		return "", storageErr("next refinement id", err)
	}
	return fmt.Sprintf("%s%03d", prefix, last+1), nil
}

// AppendRefinement adds r to the log. r.ID must be unique.
func (tx *Txn) AppendRefinement(r *Refinement) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO refinements (id, recorded_at, project_id, document_id, category,
			override_kind, pattern_id, pattern_name, diff_summary, normalized_diff)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, formatTime(r.Timestamp), r.ProjectID, r.DocumentID, r.Category,
		r.OverrideKind, r.PatternID, r.PatternName, r.DiffSummary, r.NormalizedDiff)
	if err != nil {
		return storageErr("append refinement "+r.ID, err)
	}
	return nil
}

// Refinement returns a log entry by id, or nil when absent.
func (tx *Txn) Refinement(id string) (*Refinement, error) {
	rows, err := tx.q.QueryContext(tx.ctx, refinementSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, storageErr("read refinement", err)
	}
	list, err := scanRefinements(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// Refinements returns the log in append order. A non-empty patternID
// restricts it to one pattern.
func (tx *Txn) Refinements(patternID string) ([]Refinement, error) {
	query := refinementSelect
	var args []any
	if patternID != "" {
		query += " WHERE pattern_id = ?"
		args = append(args, patternID)
	}
	rows, err := tx.q.QueryContext(tx.ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, storageErr("list refinements", err)
	}
	return scanRefinements(rows)
}

const refinementSelect = `SELECT id, recorded_at, project_id, document_id, category,
	override_kind, pattern_id, pattern_name, diff_summary, normalized_diff FROM refinements`

func scanRefinements(rows *sql.Rows) ([]Refinement, error) {
	defer rows.Close()
	var out []Refinement
	for rows.Next() {
		var r Refinement
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.ProjectID, &r.DocumentID, &r.Category,
			&r.OverrideKind, &r.PatternID, &r.PatternName, &r.DiffSummary, &r.NormalizedDiff); err != nil {
			return nil, storageErr("scan refinement", err)
		}
		r.Timestamp = parseTime(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan refinements", err)
	}
	return out, nil
}

// Pattern returns a pattern with its affected sets.
// Fails with PATTERN_NOT_FOUND when absent.
func (tx *Txn) Pattern(id string) (*Pattern, error) {
	var p Pattern
	var status, created, updated string
	err := tx.q.QueryRowContext(tx.ctx, `
		SELECT id, name, category, normalized_diff, count, status, dismiss_reason, created_at, updated_at
		FROM patterns WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.NormalizedDiff, &p.Count, &status, &p.DismissReason, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.PatternNotFound, "pattern %s not found", id)
	}
	if err != nil {
		return nil, storageErr("read pattern", err)
	}
	p.Status = Status(status)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)

	if p.Projects, err = tx.members("pattern_projects", "project_id", id); err != nil {
		return nil, err
	}
	if p.Documents, err = tx.members("pattern_documents", "document_id", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (tx *Txn) members(table, column, patternID string) ([]string, error) {
	rows, err := tx.q.QueryContext(tx.ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE pattern_id = ? ORDER BY %s", column, table, column), patternID)
	if err != nil {
		return nil, storageErr("read "+table, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storageErr("scan "+table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan "+table, err)
	}
	return out, nil
}

// SavePattern inserts or replaces a pattern and its affected sets.
func (tx *Txn) SavePattern(p *Pattern) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO patterns (id, name, category, normalized_diff, count, status, dismiss_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			normalized_diff = excluded.normalized_diff,
			count = excluded.count,
			status = excluded.status,
			dismiss_reason = excluded.dismiss_reason,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Category, p.NormalizedDiff, p.Count, string(p.Status), p.DismissReason,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return storageErr("save pattern "+p.ID, err)
	}

	for _, set := range []struct {
		table, column string
		values        []string
	}{
		{"pattern_projects", "project_id", p.Projects},
		{"pattern_documents", "document_id", p.Documents},
	} {
		for _, v := range set.values {
			_, err := tx.q.ExecContext(tx.ctx,
				fmt.Sprintf("INSERT OR IGNORE INTO %s (pattern_id, %s) VALUES (?, ?)", set.table, set.column), p.ID, v)
			if err != nil {
				return storageErr("save "+set.table, err)
			}
		}
	}
	return nil
}

// Patterns lists patterns matching filter, most frequent first.
func (tx *Txn) Patterns(filter PatternFilter) ([]Pattern, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.DocumentID != "" {
		where = append(where, "id IN (SELECT pattern_id FROM pattern_documents WHERE document_id = ?)")
		args = append(args, filter.DocumentID)
	}
	if filter.ProjectID != "" {
		where = append(where, "id IN (SELECT pattern_id FROM pattern_projects WHERE project_id = ?)")
		args = append(args, filter.ProjectID)
	}
	query := "SELECT id FROM patterns"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := tx.q.QueryContext(tx.ctx, query, args...)
	if err != nil {
		return nil, storageErr("list patterns", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr("scan pattern id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("list patterns", err)
	}

	out := make([]Pattern, 0, len(ids))
	for _, id := range ids {
		p, err := tx.Pattern(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ResetPatterns drops every pattern aggregate. The log, canonical edits and
// promotion history are kept.
func (tx *Txn) ResetPatterns() error {
	for _, table := range []string{"pattern_projects", "pattern_documents", "patterns"} {
		if _, err := tx.q.ExecContext(tx.ctx, "DELETE FROM "+table); err != nil {
			return storageErr("reset "+table, err)
		}
	}
	return nil
}

// SetCanonicalEdit stores the reviewed edit for a pattern.
func (tx *Txn) SetCanonicalEdit(e *CanonicalEdit) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO canonical_edits (pattern_id, patch_text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET patch_text = excluded.patch_text, updated_at = excluded.updated_at
	`, e.PatternID, e.PatchText, formatTime(e.UpdatedAt))
	if err != nil {
		return storageErr("save canonical edit", err)
	}
	return nil
}

// CanonicalEdit returns the reviewed edit for a pattern, or nil.
func (tx *Txn) CanonicalEdit(patternID string) (*CanonicalEdit, error) {
	e := CanonicalEdit{PatternID: patternID}
	var updated string
	err := tx.q.QueryRowContext(tx.ctx,
		"SELECT patch_text, updated_at FROM canonical_edits WHERE pattern_id = ?", patternID).
		Scan(&e.PatchText, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read canonical edit", err)
	}
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// CanonicalEdits returns every stored canonical edit ordered by pattern.
func (tx *Txn) CanonicalEdits() ([]CanonicalEdit, error) {
	rows, err := tx.q.QueryContext(tx.ctx,
		"SELECT pattern_id, patch_text, updated_at FROM canonical_edits ORDER BY pattern_id")
	if err != nil {
		return nil, storageErr("list canonical edits", err)
	}
	defer rows.Close()
	var out []CanonicalEdit
	for rows.Next() {
		var e CanonicalEdit
		var updated string
		if err := rows.Scan(&e.PatternID, &e.PatchText, &updated); err != nil {
			return nil, storageErr("scan canonical edit", err)
		}
		e.UpdatedAt = parseTime(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddPromotion records a history entry.
func (tx *Txn) AddPromotion(p *Promotion) error {
	_, err := tx.q.ExecContext(tx.ctx, `
		INSERT INTO promotions (id, pattern_id, document_id, before_version, after_version, promoted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.PatternID, p.DocumentID, p.BeforeVersion, p.AfterVersion, formatTime(p.PromotedAt))
	if err != nil {
		return storageErr("record promotion", err)
	}
	return nil
}

// Promotions returns history entries in promotion order, optionally for a
// single pattern.
func (tx *Txn) Promotions(patternID string) ([]Promotion, error) {
	query := "SELECT id, pattern_id, document_id, before_version, after_version, promoted_at FROM promotions"
	var args []any
	if patternID != "" {
		query += " WHERE pattern_id = ?"
		args = append(args, patternID)
	}
	rows, err := tx.q.QueryContext(tx.ctx, query+" ORDER BY promoted_at, document_id", args...)
	if err != nil {
		return nil, storageErr("list promotions", err)
	}
	defer rows.Close()
	var out []Promotion
	for rows.Next() {
		var p Promotion
		var at string
		if err := rows.Scan(&p.ID, &p.PatternID, &p.DocumentID, &p.BeforeVersion, &p.AfterVersion, &at); err != nil {
			return nil, storageErr("scan promotion", err)
		}
		p.PromotedAt = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}
