package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"skref/internal/errors"
	"skref/internal/ledger"
	"skref/internal/slogutil"
)

func newTestTracker(t *testing.T) (*Tracker, *ledger.DB) {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), 2*time.Second, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, 2, slogutil.NewDiscardLogger()), db
}

func hookInput(project string) RefinementInput {
	return RefinementInput{
		ProjectID:    project,
		DocumentID:   "error-lifecycle",
		Category:     "hook",
		OverrideKind: "patch",
		Diff:         "exclude fixtures",
	}
}

func TestRecordThresholdAcrossProjects(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	first, err := tr.Record(ctx, hookInput("proj1"))
	if err != nil {
		t.Fatalf("Record(proj1) error = %v", err)
	}
	if !first.Created || !first.Counted || first.Transition != nil {
		t.Errorf("first record = %+v", first)
	}
	if first.Pattern.Status != ledger.StatusTracking || first.Pattern.Count != 1 {
		t.Errorf("after first record: %s count=%d", first.Pattern.Status, first.Pattern.Count)
	}

	again, err := tr.Record(ctx, hookInput("proj1"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Counted || again.Pattern.Count != 1 || again.Transition != nil {
		t.Errorf("same project twice must not count: %+v", again)
	}

	second, err := tr.Record(ctx, hookInput("proj2"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Transition == nil || second.Transition.From != ledger.StatusTracking || second.Transition.To != ledger.StatusReady {
		t.Errorf("second project transition = %+v", second.Transition)
	}
	if second.Pattern.ID != first.Pattern.ID {
		t.Errorf("pattern ids differ: %s vs %s", first.Pattern.ID, second.Pattern.ID)
	}

	ready, err := tr.List(ctx, ledger.PatternFilter{Status: ledger.StatusReady})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].Count != 2 || len(ready[0].Projects) != 2 {
		t.Fatalf("List(ready) = %+v", ready)
	}

	third, err := tr.Record(ctx, hookInput("proj3"))
	if err != nil {
		t.Fatal(err)
	}
	if third.Transition != nil || third.Pattern.Status != ledger.StatusReady || third.Pattern.Count != 3 {
		t.Errorf("third record = %+v", third)
	}

	log, err := tr.Refinements(ctx, first.Pattern.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 4 {
		t.Errorf("refinement log has %d entries, want 4", len(log))
	}
	for i := 1; i < len(log); i++ {
		if log[i].ID <= log[i-1].ID {
			t.Errorf("refinement ids not increasing: %s then %s", log[i-1].ID, log[i].ID)
		}
	}
}

func TestRecordWhitespaceAndVariables(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	a := hookInput("proj1")
	a.Diff = "exclude:   /home/alice/app/fixtures\n\n"
	a.Variables = []string{"/home/alice/app"}
	b := hookInput("proj2")
	b.Diff = "  exclude: /srv/bob/fixtures"
	b.Variables = []string{"/srv/bob"}

	ra, err := tr.Record(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := tr.Record(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if ra.Pattern.ID != rb.Pattern.ID {
		t.Fatalf("normalized edits should share a pattern: %q vs %q", ra.Refinement.NormalizedDiff, rb.Refinement.NormalizedDiff)
	}
	if rb.Pattern.NormalizedDiff != "exclude: <var>/fixtures" {
		t.Errorf("NormalizedDiff = %q", rb.Pattern.NormalizedDiff)
	}
}

func TestRecordDifferentDocumentsAreDifferentPatterns(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	a := hookInput("proj1")
	b := hookInput("proj2")
	b.DocumentID = "deploy"
	ra, _ := tr.Record(ctx, a)
	rb, _ := tr.Record(ctx, b)
	if ra == nil || rb == nil || ra.Pattern.ID == rb.Pattern.ID {
		t.Fatal("documents must be part of the fingerprint")
	}
	if rb.Pattern.Status != ledger.StatusTracking {
		t.Errorf("status = %s", rb.Pattern.Status)
	}
}

func TestRecordInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RefinementInput)
	}{
		{"missing project", func(in *RefinementInput) { in.ProjectID = "" }},
		{"bad document id", func(in *RefinementInput) { in.DocumentID = "../etc" }},
		{"unknown override kind", func(in *RefinementInput) { in.OverrideKind = "rewrite" }},
		{"blank diff", func(in *RefinementInput) { in.Diff = "  \n\t\n" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(t)
			in := hookInput("proj1")
			tt.mutate(&in)
			_, err := tr.Record(context.Background(), in)
			if !errors.Is(err, errors.InvalidRefinement) {
				t.Errorf("Record() error = %v, want INVALID_REFINEMENT", err)
			}
		})
	}
}

func TestDismissIsTerminal(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	r, err := tr.Record(ctx, hookInput("proj1"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := tr.Dismiss(ctx, r.Pattern.ID, "fixtures differ per team")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != ledger.StatusDismissed || p.DismissReason != "fixtures differ per team" {
		t.Errorf("Dismiss() = %+v", p)
	}

	later, err := tr.Record(ctx, hookInput("proj2"))
	if err != nil {
		t.Fatal(err)
	}
	if later.Pattern.Status != ledger.StatusDismissed || later.Pattern.Count != 2 || later.Transition != nil {
		t.Errorf("dismissed pattern after crossing threshold = %+v", later.Pattern)
	}

	if _, err := tr.Dismiss(ctx, "nope", ""); !errors.Is(err, errors.PatternNotFound) {
		t.Errorf("Dismiss(unknown) = %v", err)
	}
}

func TestDismissGeneralizedKeepsHistory(t *testing.T) {
	ctx := context.Background()
	tr, db := newTestTracker(t)

	r, err := tr.Record(ctx, hookInput("proj1"))
	if err != nil {
		t.Fatal(err)
	}
	id := r.Pattern.ID
	err = db.Update(ctx, func(tx *ledger.Txn) error {
		p, err := tx.Pattern(id)
		if err != nil {
			return err
		}
		p.Status = ledger.StatusGeneralized
		if err := tx.SavePattern(p); err != nil {
			return err
		}
		return tx.AddPromotion(&ledger.Promotion{
			ID:            "promo-1",
			PatternID:     id,
			DocumentID:    "error-lifecycle",
			BeforeVersion: 1,
			AfterVersion:  2,
			PromotedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := tr.Dismiss(ctx, id, "obsolete")
	if err != nil {
		t.Fatalf("Dismiss(generalized) error = %v", err)
	}
	if p.Status != ledger.StatusDismissed || p.DismissReason != "obsolete" {
		t.Errorf("Dismiss() = %+v", p)
	}

	var history []ledger.Promotion
	err = db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		history, err = tx.Promotions(id)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != "promo-1" {
		t.Errorf("promotion history after dismissal = %+v", history)
	}
}

func TestRebuildReplaysLog(t *testing.T) {
	ctx := context.Background()
	tr, db := newTestTracker(t)

	for _, p := range []string{"proj1", "proj2", "proj1"} {
		if _, err := tr.Record(ctx, hookInput(p)); err != nil {
			t.Fatal(err)
		}
	}
	other := hookInput("proj9")
	other.Diff = "retry twice"
	ro, err := tr.Record(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Dismiss(ctx, ro.Pattern.ID, "noise"); err != nil {
		t.Fatal(err)
	}

	// Lose the aggregates.
	if err := db.Update(ctx, func(tx *ledger.Txn) error { return tx.ResetPatterns() }); err != nil {
		t.Fatal(err)
	}
	stats, err := tr.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if stats.Refinements != 4 || stats.Patterns != 2 || stats.Ready != 1 {
		t.Errorf("stats = %+v", stats)
	}

	list, err := tr.List(ctx, ledger.PatternFilter{Status: ledger.StatusReady})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Count != 2 {
		t.Errorf("ready after rebuild = %+v", list)
	}

	// The aggregates were wiped before the rebuild, so the dismissal is gone.
	dismissed, err := tr.Get(ctx, ro.Pattern.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dismissed.Status != ledger.StatusTracking {
		t.Errorf("status = %s", dismissed.Status)
	}

	// A dismissal still present in the aggregates survives a rebuild.
	if _, err := tr.Dismiss(ctx, ro.Pattern.ID, "noise"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if p, _ := tr.Get(ctx, ro.Pattern.ID); p == nil || p.Status != ledger.StatusDismissed || p.DismissReason != "noise" {
		t.Errorf("dismissal lost on rebuild: %+v", p)
	}
}

func TestSetCanonicalEdit(t *testing.T) {
	ctx := context.Background()
	tr, db := newTestTracker(t)
	r, err := tr.Record(ctx, hookInput("proj1"))
	if err != nil {
		t.Fatal(err)
	}

	text := "## PATCH: hooks/duplicate-check\n<!-- ACTION: insert-after \"check enabled\" -->\nexclude: fixtures\n"
	if err := tr.SetCanonicalEdit(ctx, r.Pattern.ID, text); err != nil {
		t.Fatalf("SetCanonicalEdit() error = %v", err)
	}
	_ = db.View(ctx, func(tx *ledger.Txn) error {
		e, err := tx.CanonicalEdit(r.Pattern.ID)
		if err != nil || e == nil || e.PatchText != text {
			t.Errorf("stored edit = %+v, %v", e, err)
		}
		return nil
	})

	if err := tr.SetCanonicalEdit(ctx, "unknown", text); !errors.Is(err, errors.PatternNotFound) {
		t.Errorf("unknown pattern = %v", err)
	}
	if err := tr.SetCanonicalEdit(ctx, r.Pattern.ID, "no blocks here\n"); !errors.Is(err, errors.InvalidOperation) {
		t.Errorf("empty edit = %v", err)
	}
}

func TestConcurrentRecordsDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	// Separate handles stand in for separate processes.
	const writers = 6
	trackers := make([]*Tracker, writers)
	for i := range trackers {
		db, err := ledger.Open(path, 5*time.Second, slogutil.NewDiscardLogger())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = db.Close() })
		trackers[i] = New(db, 2, slogutil.NewDiscardLogger())
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i, tr := range trackers {
		wg.Add(1)
		go func(i int, tr *Tracker) {
			defer wg.Done()
			_, err := tr.Record(ctx, hookInput(fmt.Sprintf("proj%d", i)))
			errs <- err
		}(i, tr)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	list, err := trackers[0].List(ctx, ledger.PatternFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Count != writers || list[0].Status != ledger.StatusReady {
		t.Errorf("after concurrent records: %+v", list)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		edit string
		vars []string
		want string
	}{
		{"plain text", "exclude fixtures", nil, "exclude fixtures"},
		{"whitespace only differences", "  exclude \t fixtures  \n\n", nil, "exclude fixtures"},
		{
			name: "unified diff with headers",
			edit: "--- a/SKILL.md\n+++ b/SKILL.md\n@@ -1,2 +1,2 @@\n check enabled\n+exclude:  fixtures\n-old line\n",
			want: "+ exclude: fixtures\n- old line",
		},
		{
			name: "bare hunk",
			edit: "@@ -1 +1,2 @@\n check enabled\n+exclude: fixtures\n",
			want: "+ exclude: fixtures",
		},
		{"variables longest first", "cd /repo/web/app && make", []string{"/repo", "/repo/web/app"}, "cd <var> && make"},
		{"crlf", "a\r\nb\r\n", nil, "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.edit, tt.vars)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPatternIDStable(t *testing.T) {
	a := PatternID("hook", "error-lifecycle", "exclude fixtures")
	if a != PatternID(" Hook ", "error-lifecycle", "exclude fixtures") {
		t.Error("category case and spacing should not change the id")
	}
	if a == PatternID("hook", "error-lifecycle", "exclude vendor") {
		t.Error("different diffs must differ")
	}
	if len(a) != 16 || strings.Trim(a, "0123456789abcdef") != "" {
		t.Errorf("id %q is not 16 hex chars", a)
	}
}

func TestDefaultName(t *testing.T) {
	if got := defaultName("+ exclude: fixtures\n- old"); got != "exclude: fixtures" {
		t.Errorf("defaultName = %q", got)
	}
	long := strings.Repeat("x", 80)
	if got := defaultName(long); len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("defaultName(long) = %q", got)
	}
}
