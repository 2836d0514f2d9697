// Package resolve computes the effective document a project sees: the base
// document with every override tier layered on top.
package resolve

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"skref/internal/errors"
	"skref/internal/layers"
	"skref/internal/patch"
	"skref/internal/section"
	"skref/internal/tier"
)

// BaseLoader loads base documents.
type BaseLoader interface {
	Load(ctx context.Context, documentID string) (*section.Document, error)
}

// Artifact is an opaque hook or script file of the effective document.
type Artifact struct {
	Kind    layers.Kind `json:"kind"`
	Name    string      `json:"name"`
	Tier    tier.Tier   `json:"tier"`
	Content []byte      `json:"-"`
	Mode    uint32      `json:"mode"`
}

// Effective is the result of a resolution.
type Effective struct {
	Document   *section.Document
	Config     map[string]any
	Artifacts  []Artifact
	Provenance *Provenance
}

// Resolver resolves documents. It never writes to any tier.
type Resolver struct {
	base   BaseLoader
	loader *layers.Loader
	opts   patch.Options
	logger *slog.Logger
}

// New creates a Resolver.
func New(base BaseLoader, loader *layers.Loader, opts patch.Options, logger *slog.Logger) *Resolver {
	return &Resolver{base: base, loader: loader, opts: opts, logger: logger}
}

// Resolve returns the effective document for documentID in the project at
// projectRoot. An empty projectRoot resolves base plus user scope only.
func (r *Resolver) Resolve(ctx context.Context, documentID, projectRoot string) (*Effective, error) {
	return r.resolve(ctx, documentID, projectRoot, nil)
}

// Preview resolves as if ops were one more patch layer at tier t, applied
// after that tier's own patch layers. Nothing is persisted.
func (r *Resolver) Preview(ctx context.Context, documentID, projectRoot string, t tier.Tier, ops []patch.Op) (*Effective, error) {
	if !t.Valid() {
		return nil, errors.Newf(errors.InvalidOperation, "invalid tier %d", int(t))
	}
	extra := &layers.Layer{
		Tier:       t,
		DocumentID: documentID,
		Kind:       layers.SectionPatch,
		Name:       "(preview)",
		Ops:        ops,
	}
	return r.resolve(ctx, documentID, projectRoot, extra)
}

func (r *Resolver) resolve(ctx context.Context, documentID, projectRoot string, extra *layers.Layer) (*Effective, error) {
	start := time.Now()

	base, err := r.base.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	all, err := r.loader.Load(ctx, documentID, projectRoot)
	if err != nil {
		return nil, err
	}
	if extra != nil {
		all = insertLayer(all, extra)
	}

	full, err := selectFullOverride(all)
	if err != nil {
		return nil, err
	}

	prov := newProvenance(documentID, projectRoot, base.Version)
	doc := base
	active := all
	if full != nil {
		doc = full.Document.WithMeta(documentID, base.Version, full.Tier)
		prov.FullOverride = full.Name
		// Everything below the full override's tier is discarded with the base.
		active = nil
		for _, l := range all {
			if l.Tier >= full.Tier && l.Kind != layers.FullOverride {
				active = append(active, l)
			}
		}
	}
	if extra != nil && extra.Tier == tier.Base && full != nil {
		r.logger.Debug("Preview at base tier is shadowed by a full override", "document", documentID, "tier", full.Tier.String())
	}
	prov.Source = doc.Source
	prov.seed(doc)
	for _, l := range active {
		prov.Layers = append(prov.Layers, LayerRef{Tier: l.Tier, Kind: l.Kind, Name: l.Name, Checksum: l.Checksum})
	}

	// Configuration: later layers win on key collisions.
	values := map[string]any{}
	for _, l := range active {
		if l.Kind != layers.ConfigOverride {
			continue
		}
		for k, v := range l.Config {
			values[k] = v
			prov.Config[k] = l.Tier
		}
	}
	if len(values) > 0 {
		merged, err := doc.WithConfig(values)
		if err != nil {
			return nil, errors.Wrapf(err, "merge configuration into %s document", doc.Source)
		}
		doc = merged
	}

	// Section edits: one applier for the whole stack, so a section deleted by
	// a lower tier stays deleted when a higher tier deletes it again.
	applier := patch.NewApplier(r.opts)
	for _, l := range active {
		if l.Kind != layers.SectionPatch && l.Kind != layers.Extension {
			continue
		}
		res, err := applier.Apply(ctx, doc, l.Ops)
		if err != nil {
			return nil, annotateLayer(err, l)
		}
		prov.touch(res, l)
		doc = res.Document
	}

	artifacts := map[string]Artifact{}
	for _, l := range active {
		if l.Kind != layers.HookOverride && l.Kind != layers.ScriptOverride {
			continue
		}
		artifacts[l.Name] = Artifact{Kind: l.Kind, Name: l.Name, Tier: l.Tier, Content: l.Artifact, Mode: uint32(l.Mode)}
		prov.Artifacts[l.Name] = l.Tier
	}

	if err := verifyLayers(active); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, err := doc.Config()
	if err != nil {
		return nil, err
	}
	prov.finish(doc)

	r.logger.Debug("Resolved document",
		"document", documentID,
		"project", projectRoot,
		"layers", len(active),
		"source", doc.Source.String(),
		"duration", time.Since(start).String())

	return &Effective{
		Document:   doc,
		Config:     cfg,
		Artifacts:  sortedArtifacts(artifacts),
		Provenance: prov,
	}, nil
}

// selectFullOverride returns the highest-precedence full override, failing
// when a tier declares more than one.
func selectFullOverride(all []layers.Layer) (*layers.Layer, error) {
	perTier := map[tier.Tier][]string{}
	var winner *layers.Layer
	for i := range all {
		l := &all[i]
		if l.Kind != layers.FullOverride {
			continue
		}
		perTier[l.Tier] = append(perTier[l.Tier], l.Name)
		if winner == nil || l.Tier > winner.Tier {
			winner = l
		}
	}
	for _, t := range tier.OverrideTiers() {
		if names := perTier[t]; len(names) > 1 {
			return nil, errors.Newf(errors.OverrideConflict,
				"%s declares %d full overrides: %s", t, len(names), strings.Join(names, ", ")).
				WithDetails(errors.PatchDetails{Tier: t.String(), Layer: strings.Join(names, ",")})
		}
	}
	return winner, nil
}

// insertLayer places extra after the last layer of its tier that is not a
// hook or script, keeping ascending precedence.
func insertLayer(all []layers.Layer, extra *layers.Layer) []layers.Layer {
	at := 0
	for i, l := range all {
		if l.Tier < extra.Tier || (l.Tier == extra.Tier && l.Kind != layers.HookOverride && l.Kind != layers.ScriptOverride) {
			at = i + 1
		}
	}
	out := make([]layers.Layer, 0, len(all)+1)
	out = append(out, all[:at]...)
	out = append(out, *extra)
	return append(out, all[at:]...)
}

func annotateLayer(err error, l layers.Layer) error {
	se, ok := errors.As(err)
	if !ok {
		return err
	}
	details, _ := se.Details.(errors.PatchDetails)
	details.Tier = l.Tier.String()
	details.Layer = l.Name
	return errors.Wrapf(err, "%s layer %s", l.Tier, l.Name).WithDetails(details)
}

// verifyLayers re-reads every file-backed layer and fails with
// TRANSIENT_READ if one changed after it was decoded.
func verifyLayers(active []layers.Layer) error {
	for _, l := range active {
		if l.Path == "" {
			continue
		}
		snap := layers.Snapshot{Path: l.Path, Checksum: l.Checksum}
		if err := snap.Verify(); err != nil {
			return errors.Wrapf(err, "%s layer %s", l.Tier, l.Name).
				WithDetails(errors.PatchDetails{Tier: l.Tier.String(), Layer: l.Name})
		}
	}
	return nil
}

func sortedArtifacts(m map[string]Artifact) []Artifact {
	out := make([]Artifact, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
