// Package exchange moves ledger contents between machines as compressed
// bundles and merges imported bundles into a local ledger.
package exchange

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"skref/internal/errors"
	"skref/internal/ledger"
)

// FormatVersion is the bundle schema version written by Export.
const FormatVersion = 1

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Bundle is a snapshot of a ledger.
type Bundle struct {
	Format         int                    `json:"format"`
	ID             string                 `json:"id"`
	ExportedAt     time.Time              `json:"exportedAt"`
	Refinements    []ledger.Refinement    `json:"refinements"`
	Patterns       []ledger.Pattern       `json:"patterns"`
	CanonicalEdits []ledger.CanonicalEdit `json:"canonicalEdits"`
	Promotions     []ledger.Promotion     `json:"promotions"`
}

// Stats summarizes an import.
type Stats struct {
	BundleID        string `json:"bundleId"`
	Refinements     int    `json:"refinements"`
	Renumbered      int    `json:"renumbered"`
	Duplicates      int    `json:"duplicates"`
	PatternsCreated int    `json:"patternsCreated"`
	PatternsMerged  int    `json:"patternsMerged"`
	CanonicalEdits  int    `json:"canonicalEdits"`
	Promotions      int    `json:"promotions"`
}

// Export writes every ledger record to w as a zstd-compressed JSON bundle.
func Export(ctx context.Context, db *ledger.DB, w io.Writer, logger *slog.Logger) (*Bundle, error) {
	b := &Bundle{Format: FormatVersion, ID: uuid.New().String(), ExportedAt: time.Now().UTC()}
	err := db.View(ctx, func(tx *ledger.Txn) error {
		var err error
		if b.Refinements, err = tx.Refinements(""); err != nil {
			return err
		}
		if b.Patterns, err = tx.Patterns(ledger.PatternFilter{}); err != nil {
			return err
		}
		if b.CanonicalEdits, err = tx.CanonicalEdits(); err != nil {
			return err
		}
		b.Promotions, err = tx.Promotions("")
		return err
	})
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.NewSkrefError(errors.InternalError, "create zstd encoder", err)
	}
	if err := json.NewEncoder(enc).Encode(b); err != nil {
		enc.Close()
		return nil, errors.NewSkrefError(errors.StorageError, "write bundle", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "flush bundle", err)
	}

	logger.Info("Ledger exported",
		"bundle", b.ID,
		"refinements", len(b.Refinements),
		"patterns", len(b.Patterns))
	return b, nil
}

// Read decodes a bundle. Uncompressed JSON is accepted as well.
func Read(r io.Reader) (*Bundle, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zstdMagic))

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.NewSkrefError(errors.InvalidOperation, "open bundle", err)
		}
		defer dec.Close()
		src = dec
	}

	var b Bundle
	if err := json.NewDecoder(src).Decode(&b); err != nil {
		return nil, errors.NewSkrefError(errors.InvalidOperation, "decode bundle", err)
	}
	if b.Format < 1 || b.Format > FormatVersion {
		return nil, errors.Newf(errors.InvalidOperation, "bundle format %d not supported (max: %d)", b.Format, FormatVersion)
	}
	return &b, nil
}

// Importer merges bundles into a ledger.
type Importer struct {
	db        *ledger.DB
	threshold int
	logger    *slog.Logger
}

// NewImporter creates an Importer. threshold decides whether a merged
// pattern is Ready.
func NewImporter(db *ledger.DB, threshold int, logger *slog.Logger) *Importer {
	return &Importer{db: db, threshold: threshold, logger: logger}
}

// Import merges the bundle read from r in a single transaction:
//   - refinements are inserted when absent; an id already used by a
//     different refinement is renumbered
//   - patterns take the larger count and the union of affected sets
//   - a terminal status on either side is kept
//   - canonical edits keep the most recently updated text
//   - promotions are inserted when absent
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Stats, error) {
	b, err := Read(r)
	if err != nil {
		return nil, err
	}
	stats := &Stats{BundleID: b.ID}

	err = im.db.Update(ctx, func(tx *ledger.Txn) error {
		*stats = Stats{BundleID: b.ID}
		if err := im.mergeRefinements(tx, b.Refinements, stats); err != nil {
			return err
		}
		if err := im.mergePatterns(tx, b.Patterns, stats); err != nil {
			return err
		}
		if err := mergeCanonicalEdits(tx, b.CanonicalEdits, stats); err != nil {
			return err
		}
		return mergePromotions(tx, b.Promotions, stats)
	})
	if err != nil {
		return nil, err
	}

	im.logger.Info("Ledger bundle imported",
		"bundle", b.ID,
		"refinements", stats.Refinements,
		"renumbered", stats.Renumbered,
		"patternsCreated", stats.PatternsCreated,
		"patternsMerged", stats.PatternsMerged)
	return stats, nil
}

func (im *Importer) mergeRefinements(tx *ledger.Txn, refs []ledger.Refinement, stats *Stats) error {
	for _, r := range refs {
		existing, err := tx.Refinement(r.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if sameRefinement(*existing, r) {
				stats.Duplicates++
				continue
			}
			id, err := tx.NextRefinementID(r.Timestamp)
			if err != nil {
				return err
			}
			im.logger.Debug("Renumbered imported refinement", "refinement", r.ID, "as", id)
			r.ID = id
			stats.Renumbered++
		}
		if err := tx.AppendRefinement(&r); err != nil {
			return err
		}
		stats.Refinements++
	}
	return nil
}

func sameRefinement(a, b ledger.Refinement) bool {
	return a.PatternID == b.PatternID &&
		a.ProjectID == b.ProjectID &&
		a.DocumentID == b.DocumentID &&
		a.Timestamp.Equal(b.Timestamp)
}

func (im *Importer) mergePatterns(tx *ledger.Txn, patterns []ledger.Pattern, stats *Stats) error {
	for _, remote := range patterns {
		local, err := tx.Pattern(remote.ID)
		if err != nil && !errors.Is(err, errors.PatternNotFound) {
			return err
		}
		if local == nil {
			p := remote
			if !p.Status.Terminal() {
				p.Status = im.statusFor(p.Count)
			}
			if err := tx.SavePattern(&p); err != nil {
				return err
			}
			stats.PatternsCreated++
			continue
		}
		merged := Merge(*local, remote, im.threshold)
		if err := tx.SavePattern(&merged); err != nil {
			return err
		}
		stats.PatternsMerged++
	}
	return nil
}

// Merge combines two aggregates of the same pattern.
func Merge(local, remote ledger.Pattern, threshold int) ledger.Pattern {
	out := local
	out.Projects = union(local.Projects, remote.Projects)
	out.Documents = union(local.Documents, remote.Documents)

	out.Count = local.Count
	if remote.Count > out.Count {
		out.Count = remote.Count
		out.Name = remote.Name
	}
	if len(out.Projects) > out.Count {
		out.Count = len(out.Projects)
	}
	if remote.CreatedAt.Before(out.CreatedAt) && !remote.CreatedAt.IsZero() {
		out.CreatedAt = remote.CreatedAt
	}
	if remote.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt
	}

	switch {
	case local.Status.Terminal():
		// kept as is
	case remote.Status.Terminal():
		out.Status = remote.Status
		out.DismissReason = remote.DismissReason
	case out.Count >= threshold:
		out.Status = ledger.StatusReady
	default:
		out.Status = ledger.StatusTracking
	}
	return out
}

func (im *Importer) statusFor(count int) ledger.Status {
	if count >= im.threshold {
		return ledger.StatusReady
	}
	return ledger.StatusTracking
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func mergeCanonicalEdits(tx *ledger.Txn, edits []ledger.CanonicalEdit, stats *Stats) error {
	for _, e := range edits {
		if _, err := tx.Pattern(e.PatternID); err != nil {
			if errors.Is(err, errors.PatternNotFound) {
				return errors.Newf(errors.InvalidOperation, "bundle has a canonical edit for unknown pattern %s", e.PatternID)
			}
			return err
		}
		local, err := tx.CanonicalEdit(e.PatternID)
		if err != nil {
			return err
		}
		if local != nil && !e.UpdatedAt.After(local.UpdatedAt) {
			continue
		}
		if err := tx.SetCanonicalEdit(&e); err != nil {
			return err
		}
		stats.CanonicalEdits++
	}
	return nil
}

func mergePromotions(tx *ledger.Txn, promotions []ledger.Promotion, stats *Stats) error {
	known := map[string]bool{}
	existing, err := tx.Promotions("")
	if err != nil {
		return err
	}
	for _, p := range existing {
		known[p.ID] = true
	}
	for _, p := range promotions {
		if known[p.ID] {
			continue
		}
		if p.ID == "" {
			return errors.Newf(errors.InvalidOperation, "bundle promotion for %s has no id", p.PatternID)
		}
		if err := tx.AddPromotion(&p); err != nil {
			return err
		}
		known[p.ID] = true
		stats.Promotions++
	}
	return nil
}
