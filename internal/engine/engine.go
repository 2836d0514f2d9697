// Package engine wires the stores, resolver, tracker and promoter of a skref
// home into the operations callers use.
package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"skref/internal/basestore"
	"skref/internal/config"
	"skref/internal/errors"
	"skref/internal/exchange"
	"skref/internal/layers"
	"skref/internal/ledger"
	"skref/internal/patch"
	"skref/internal/paths"
	"skref/internal/projects"
	"skref/internal/promote"
	"skref/internal/resolve"
	"skref/internal/section"
	"skref/internal/slogutil"
	"skref/internal/tier"
	"skref/internal/tracker"
)

// Engine is the entry point for every caller-facing operation.
type Engine struct {
	home   string
	config *config.Config
	logger *slog.Logger

	base     *basestore.Store
	loader   *layers.Loader
	db       *ledger.DB
	tracker  *tracker.Tracker
	resolver *resolve.Resolver
	promoter *promote.Promoter
	projects *projects.Registry
}

// Open creates the home layout if needed and opens every store under it.
// A nil factory discards logs.
func Open(home string, cfg *config.Config, factory *slogutil.LoggerFactory) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = slogutil.NewLoggerFactory("", cfg, nil, nil)
	}
	if err := paths.EnsureHome(home); err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "create skref home", err)
	}

	logger := factory.EngineLogger()

	baseRoot := cfg.Roots.Base
	if baseRoot == "" {
		baseRoot = paths.BaseDir(home)
	}
	userRoot := cfg.Roots.User
	if userRoot == "" {
		userRoot = paths.UserDir(home)
	}

	db, err := ledger.Open(paths.LedgerPath(home), cfg.BusyTimeout(), factory.LedgerLogger())
	if err != nil {
		return nil, err
	}

	base := basestore.Open(baseRoot, basestore.Options{
		LockPath:    paths.BaseLockPath(home),
		LockTimeout: cfg.LockTimeout(),
		LockPoll:    cfg.LockPoll(),
	}, logger)
	loader := layers.NewLoader(layers.Layout{
		UserRoot:  userRoot,
		SharedDir: cfg.Layout.ProjectShared,
		LocalDir:  cfg.Layout.ProjectLocal,
	}, logger)
	opts := patch.Options{StrictMarkers: cfg.Patch.StrictMarkers}

	e := &Engine{
		home:     home,
		config:   cfg,
		logger:   logger,
		base:     base,
		loader:   loader,
		db:       db,
		tracker:  tracker.New(db, cfg.Tracker.Threshold, logger),
		resolver: resolve.New(base, loader, opts, logger),
		promoter: promote.New(db, base, opts, logger),
		projects: projects.OpenHome(home, cfg.LockTimeout(), cfg.LockPoll()),
	}

	logger.Debug("Engine opened",
		"home", home,
		"base", baseRoot,
		"user", userRoot,
		"threshold", e.tracker.Threshold())
	return e, nil
}

// Close releases the ledger.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Home returns the skref home directory.
func (e *Engine) Home() string {
	return e.home
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Projects returns the project registry.
func (e *Engine) Projects() *projects.Registry {
	return e.projects
}

// ProjectRoot maps a project id (or directory path) to its root. An empty
// id is no project.
func (e *Engine) ProjectRoot(projectID string) (string, error) {
	return e.projects.Resolve(projectID)
}

// ResolveDocument returns the effective document for docID in a project.
func (e *Engine) ResolveDocument(ctx context.Context, docID, projectID string) (*resolve.Effective, error) {
	root, err := e.ProjectRoot(projectID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eff, err := e.resolver.Resolve(ctx, docID, root)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Document resolved",
		"document", docID,
		"project", projectID,
		"layers", len(eff.Provenance.Layers),
		"duration", time.Since(start).String())
	return eff, nil
}

// PreviewPatch resolves as if ops were an extra patch layer at tier t.
func (e *Engine) PreviewPatch(ctx context.Context, docID, projectID string, t tier.Tier, ops []patch.Op) (*resolve.Effective, error) {
	if t == tier.Base {
		return nil, errors.Newf(errors.InvalidOperation, "cannot preview a patch at the base tier")
	}
	root, err := e.ProjectRoot(projectID)
	if err != nil {
		return nil, err
	}
	if root == "" && (t == tier.ProjectShared || t == tier.ProjectLocal) {
		return nil, errors.Newf(errors.ProjectNotFound, "tier %s needs a project", t)
	}
	return e.resolver.Preview(ctx, docID, root, t, ops)
}

// PreviewPatchText parses patch-file text and previews it.
func (e *Engine) PreviewPatchText(ctx context.Context, docID, projectID string, t tier.Tier, text string) (*resolve.Effective, error) {
	ops, err := patch.ParseFile(text)
	if err != nil {
		return nil, err
	}
	return e.PreviewPatch(ctx, docID, projectID, t, ops)
}

// RecordRefinement records a committed edit.
func (e *Engine) RecordRefinement(ctx context.Context, in tracker.RefinementInput) (*tracker.UpdateResult, error) {
	return e.tracker.Record(ctx, in)
}

// ListPatterns lists patterns matching filter.
func (e *Engine) ListPatterns(ctx context.Context, filter ledger.PatternFilter) ([]ledger.Pattern, error) {
	return e.tracker.List(ctx, filter)
}

// GetPattern returns one pattern.
func (e *Engine) GetPattern(ctx context.Context, patternID string) (*ledger.Pattern, error) {
	return e.tracker.Get(ctx, patternID)
}

// Refinements returns the refinement log, optionally for one pattern.
func (e *Engine) Refinements(ctx context.Context, patternID string) ([]ledger.Refinement, error) {
	return e.tracker.Refinements(ctx, patternID)
}

// PromotePattern applies a Ready pattern's canonical edit to the base
// documents it affects. inline, when non-empty, replaces the stored edit.
func (e *Engine) PromotePattern(ctx context.Context, patternID, inline string) (*promote.Result, error) {
	return e.promoter.Promote(ctx, patternID, inline)
}

// DismissPattern marks a pattern Dismissed.
func (e *Engine) DismissPattern(ctx context.Context, patternID, reason string) (*ledger.Pattern, error) {
	return e.tracker.Dismiss(ctx, patternID, reason)
}

// SetCanonicalEdit stores the reviewed edit a pattern promotes.
func (e *Engine) SetCanonicalEdit(ctx context.Context, patternID, text string) error {
	return e.tracker.SetCanonicalEdit(ctx, patternID, text)
}

// CanonicalEdit returns the stored edit of a pattern, or nil when none is set.
func (e *Engine) CanonicalEdit(ctx context.Context, patternID string) (*ledger.CanonicalEdit, error) {
	var out *ledger.CanonicalEdit
	err := e.db.View(ctx, func(tx *ledger.Txn) error {
		if _, err := tx.Pattern(patternID); err != nil {
			return err
		}
		var err error
		out, err = tx.CanonicalEdit(patternID)
		return err
	})
	return out, err
}

// RebuildPatterns replays the refinement log into fresh aggregates.
func (e *Engine) RebuildPatterns(ctx context.Context) (*tracker.RebuildStats, error) {
	return e.tracker.Rebuild(ctx)
}

// History lists promotions, optionally for one pattern.
func (e *Engine) History(ctx context.Context, patternID string) ([]ledger.Promotion, error) {
	var out []ledger.Promotion
	err := e.db.View(ctx, func(tx *ledger.Txn) error {
		if patternID != "" {
			if _, err := tx.Pattern(patternID); err != nil {
				return err
			}
		}
		var err error
		out, err = tx.Promotions(patternID)
		return err
	})
	return out, err
}

// Export writes the ledger to w as a compressed bundle.
func (e *Engine) Export(ctx context.Context, w io.Writer) (*exchange.Bundle, error) {
	return exchange.Export(ctx, e.db, w, e.logger)
}

// Import merges a bundle into the ledger.
func (e *Engine) Import(ctx context.Context, r io.Reader) (*exchange.Stats, error) {
	return exchange.NewImporter(e.db, e.tracker.Threshold(), e.logger).Import(ctx, r)
}

// PutBase imports or replaces a base document. The content must parse.
func (e *Engine) PutBase(ctx context.Context, docID string, content []byte) (basestore.Entry, error) {
	if err := layers.ValidateDocumentID(docID); err != nil {
		return basestore.Entry{}, err
	}
	if _, err := section.Parse(string(content)); err != nil {
		return basestore.Entry{}, errors.Wrapf(err, "base document %s", docID)
	}
	entry, err := e.base.Put(ctx, docID, content)
	if err != nil {
		return basestore.Entry{}, err
	}
	e.logger.Info("Base document stored", "document", docID, "version", entry.Version)
	return entry, nil
}

// ShowBase returns a base document with its manifest record.
func (e *Engine) ShowBase(ctx context.Context, docID string) (*section.Document, basestore.Entry, error) {
	doc, err := e.base.Load(ctx, docID)
	if err != nil {
		return nil, basestore.Entry{}, err
	}
	entry, err := e.base.Entry(docID)
	if err != nil {
		return nil, basestore.Entry{}, err
	}
	return doc, entry, nil
}

// ListBase returns every base document's manifest record.
func (e *Engine) ListBase() ([]basestore.Entry, error) {
	return e.base.List()
}

// WatchRoots returns the directories whose changes can alter docID's
// resolution in a project.
func (e *Engine) WatchRoots(docID, projectID string) ([]string, error) {
	root, err := e.ProjectRoot(projectID)
	if err != nil {
		return nil, err
	}
	roots := []string{filepath.Join(e.base.Root(), docID)}
	for _, r := range e.loader.Layout().Roots(root) {
		roots = append(roots, filepath.Join(r, docID))
	}
	return roots, nil
}
