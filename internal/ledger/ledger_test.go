package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"skref/internal/errors"
	"skref/internal/slogutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger", "ledger.db"), time.Second, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close ledger: %v", err)
		}
	})
	return db
}

func TestSchemaInitialized(t *testing.T) {
	db := setupTestDB(t)
	err := db.View(context.Background(), func(tx *Txn) error {
		version, err := getSchemaVersion(tx)
		if err != nil {
			return err
		}
		if version != currentSchemaVersion {
			t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Reopening an initialized ledger is a no-op migration.
	again, err := Open(db.Path(), time.Second, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	_ = again.Close()
}

func TestRefinementIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		err := db.Update(ctx, func(tx *Txn) error {
			id, err := tx.NextRefinementID(day)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return tx.AppendRefinement(&Refinement{ID: id, Timestamp: day, ProjectID: "p", DocumentID: "d",
				Category: "hook", OverrideKind: "patch", PatternID: "x", PatternName: "x"})
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"REF-2026-0307-001", "REF-2026-0307-002", "REF-2026-0307-003"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("id %d = %s, want %s", i, ids[i], want[i])
		}
	}

	err := db.View(ctx, func(tx *Txn) error {
		next, err := tx.NextRefinementID(day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if next != "REF-2026-0308-001" {
			t.Errorf("next day id = %s", next)
		}
		list, err := tx.Refinements("")
		if err != nil {
			return err
		}
		if len(list) != 3 || list[0].ID != want[0] || !list[0].Timestamp.Equal(day) {
			t.Errorf("Refinements() = %+v", list)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPatternRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	p := &Pattern{
		ID: "abc", Name: "exclude fixtures", Category: "hook", NormalizedDiff: "exclude fixtures",
		Count: 1, Documents: []string{"error-lifecycle"}, Projects: []string{"proj1"},
		Status: StatusTracking, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.Update(ctx, func(tx *Txn) error { return tx.SavePattern(p) }); err != nil {
		t.Fatal(err)
	}

	p.Count = 2
	p.Projects = append(p.Projects, "proj2")
	p.Status = StatusReady
	if err := db.Update(ctx, func(tx *Txn) error { return tx.SavePattern(p) }); err != nil {
		t.Fatal(err)
	}

	err := db.View(ctx, func(tx *Txn) error {
		got, err := tx.Pattern("abc")
		if err != nil {
			return err
		}
		if got.Count != 2 || got.Status != StatusReady || len(got.Projects) != 2 || len(got.Documents) != 1 {
			t.Errorf("Pattern() = %+v", got)
		}
		if !got.CreatedAt.Equal(now) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
		}

		if _, err := tx.Pattern("missing"); !errors.Is(err, errors.PatternNotFound) {
			t.Errorf("missing pattern error = %v", err)
		}

		for _, tc := range []struct {
			filter PatternFilter
			want   int
		}{
			{PatternFilter{}, 1},
			{PatternFilter{Status: StatusReady}, 1},
			{PatternFilter{Status: StatusTracking}, 0},
			{PatternFilter{ProjectID: "proj2"}, 1},
			{PatternFilter{DocumentID: "other"}, 0},
			{PatternFilter{Category: "hook", DocumentID: "error-lifecycle"}, 1},
		} {
			list, err := tx.Patterns(tc.filter)
			if err != nil {
				return err
			}
			if len(list) != tc.want {
				t.Errorf("Patterns(%+v) = %d results, want %d", tc.filter, len(list), tc.want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.Update(ctx, func(tx *Txn) error {
		if err := tx.SavePattern(&Pattern{ID: "a", Name: "a", Category: "c", NormalizedDiff: "d",
			Count: 1, Status: StatusTracking, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("Update() error = %v", err)
	}

	err = db.View(ctx, func(tx *Txn) error {
		_, err := tx.Pattern("a")
		if !errors.Is(err, errors.PatternNotFound) {
			t.Errorf("pattern survived rollback: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateSerializesReadModifyWrite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()
	if err := db.Update(ctx, func(tx *Txn) error {
		return tx.SavePattern(&Pattern{ID: "n", Name: "n", Category: "c", NormalizedDiff: "d",
			Count: 1, Status: StatusTracking, CreatedAt: now, UpdatedAt: now})
	}); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Update(ctx, func(tx *Txn) error {
				p, err := tx.Pattern("n")
				if err != nil {
					return err
				}
				p.Count++
				return tx.SavePattern(p)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Update failed: %v", err)
		}
	}

	_ = db.View(ctx, func(tx *Txn) error {
		p, err := tx.Pattern("n")
		if err != nil {
			t.Fatal(err)
		}
		if p.Count != 1+workers {
			t.Errorf("Count = %d, want %d (lost increments)", p.Count, 1+workers)
		}
		return nil
	})
}

func TestResetPatternsKeepsLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.Update(ctx, func(tx *Txn) error {
		if err := tx.AppendRefinement(&Refinement{ID: "REF-2026-0101-001", Timestamp: now, ProjectID: "p",
			DocumentID: "d", Category: "c", OverrideKind: "patch", PatternID: "a", PatternName: "a"}); err != nil {
			return err
		}
		if err := tx.SetCanonicalEdit(&CanonicalEdit{PatternID: "a", PatchText: "## PATCH: x\ny\n", UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.AddPromotion(&Promotion{ID: "u1", PatternID: "a", DocumentID: "d",
			BeforeVersion: 1, AfterVersion: 2, PromotedAt: now}); err != nil {
			return err
		}
		if err := tx.SavePattern(&Pattern{ID: "a", Name: "a", Category: "c", NormalizedDiff: "d", Count: 1,
			Projects: []string{"p"}, Documents: []string{"d"}, Status: StatusTracking, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.ResetPatterns()
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = db.View(ctx, func(tx *Txn) error {
		if list, _ := tx.Patterns(PatternFilter{}); len(list) != 0 {
			t.Errorf("patterns after reset = %d", len(list))
		}
		if list, _ := tx.Refinements(""); len(list) != 1 {
			t.Errorf("refinements after reset = %d", len(list))
		}
		if e, _ := tx.CanonicalEdit("a"); e == nil || e.PatchText != "## PATCH: x\ny\n" {
			t.Errorf("canonical edit after reset = %+v", e)
		}
		if list, _ := tx.Promotions("a"); len(list) != 1 || list[0].AfterVersion != 2 {
			t.Errorf("promotions after reset = %+v", list)
		}
		return nil
	})
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"ready", StatusReady, false},
		{"Tracking", StatusTracking, false},
		{" dismissed ", StatusDismissed, false},
		{"promoted", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, %v", tt.in, got, err)
		}
	}
	if !StatusDismissed.Terminal() || StatusReady.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
