// Package layers discovers and decodes override layers for a document.
//
// Every override tier keeps one directory per document:
//
//	<tier-root>/<document-id>/SKILL.md          full override
//	<tier-root>/<document-id>/SKILL.patch.md    section patch
//	<tier-root>/<document-id>/SKILL.extend.md   extension (additive only)
//	<tier-root>/<document-id>/skill-config.*    configuration override
//	<tier-root>/<document-id>/hooks/...         hook artifacts
//	<tier-root>/<document-id>/scripts/...       script artifacts
package layers

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"skref/internal/errors"
	"skref/internal/patch"
	"skref/internal/section"
	"skref/internal/tier"
)

// Kind is the shape of an override layer's payload.
type Kind string

const (
	SectionPatch   Kind = "patch"
	Extension      Kind = "extend"
	ConfigOverride Kind = "config"
	FullOverride   Kind = "full"
	HookOverride   Kind = "hook"
	ScriptOverride Kind = "script"
)

// kindOrder fixes the order layers of one tier are listed in.
var kindOrder = map[Kind]int{
	FullOverride:   0,
	ConfigOverride: 1,
	SectionPatch:   2,
	Extension:      3,
	HookOverride:   4,
	ScriptOverride: 5,
}

// Well-known file names.
const (
	FullFile   = "SKILL.md"
	PatchFile  = "SKILL.patch.md"
	ExtendFile = "SKILL.extend.md"
	HooksDir   = "hooks"
	ScriptsDir = "scripts"
)

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateDocumentID rejects ids that are not a single safe path segment.
func ValidateDocumentID(id string) error {
	if !documentIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return errors.Newf(errors.InvalidLayer, "invalid document id %q", id)
	}
	return nil
}

// Layer is one decoded override file.
type Layer struct {
	Tier       tier.Tier
	DocumentID string
	Kind       Kind
	// Name is the file path relative to the tier's document directory,
	// with forward slashes.
	Name     string
	Path     string
	Checksum string

	Ops      []patch.Op
	Config   map[string]any
	Document *section.Document
	Artifact []byte
	Mode     os.FileMode
}

// String identifies the layer in logs and errors.
func (l Layer) String() string {
	return fmt.Sprintf("%s:%s", l.Tier, l.Name)
}

// Layout locates tier roots. Project tiers are relative to a project root.
type Layout struct {
	UserRoot  string
	SharedDir string
	LocalDir  string
}

// TierDir returns the document directory for an override tier.
func (l Layout) TierDir(t tier.Tier, projectRoot, documentID string) (string, error) {
	switch t {
	case tier.UserScope:
		if l.UserRoot == "" {
			return "", nil
		}
		return filepath.Join(l.UserRoot, documentID), nil
	case tier.ProjectShared:
		if projectRoot == "" {
			return "", nil
		}
		return filepath.Join(projectRoot, filepath.FromSlash(l.SharedDir), documentID), nil
	case tier.ProjectLocal:
		if projectRoot == "" {
			return "", nil
		}
		return filepath.Join(projectRoot, filepath.FromSlash(l.LocalDir), documentID), nil
	default:
		return "", fmt.Errorf("tier %s has no override directory", t)
	}
}

// Roots returns every directory that may hold layers for projectRoot.
func (l Layout) Roots(projectRoot string) []string {
	var out []string
	if l.UserRoot != "" {
		out = append(out, l.UserRoot)
	}
	if projectRoot != "" {
		out = append(out,
			filepath.Join(projectRoot, filepath.FromSlash(l.SharedDir)),
			filepath.Join(projectRoot, filepath.FromSlash(l.LocalDir)))
	}
	return out
}

// Loader reads override layers from disk. Reads never take locks; each file
// is read as a snapshot instead.
type Loader struct {
	layout Layout
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(layout Layout, logger *slog.Logger) *Loader {
	return &Loader{layout: layout, logger: logger}
}

// Layout returns the loader's directory layout.
func (l *Loader) Layout() Layout {
	return l.layout
}

// Load returns the layers of every override tier for a document, in
// ascending tier precedence. projectRoot may be empty, in which case only
// the user tier is consulted.
func (l *Loader) Load(ctx context.Context, documentID, projectRoot string) ([]Layer, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	var out []Layer
	for _, t := range tier.OverrideTiers() {
		layers, err := l.LoadTier(ctx, t, documentID, projectRoot)
		if err != nil {
			return nil, err
		}
		out = append(out, layers...)
	}
	return out, nil
}

// LoadTier returns the layers one tier declares for a document.
func (l *Loader) LoadTier(ctx context.Context, t tier.Tier, documentID, projectRoot string) ([]Layer, error) {
	dir, err := l.layout.TierDir(t, projectRoot, documentID)
	if err != nil || dir == "" {
		return nil, err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "stat "+dir, err)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.InvalidLayer, "%s is not a directory", dir)
	}

	var layers []Layer
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		kind, ok := Classify(rel)
		if !ok {
			l.logger.Debug("Ignoring unrecognized layer file", "tier", t.String(), "document", documentID, "file", rel)
			return nil
		}

		layer, err := l.decode(t, documentID, kind, rel, path)
		if err != nil {
			return err
		}
		layers = append(layers, *layer)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(layers, func(i, j int) bool {
		a, b := layers[i], layers[j]
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if ra, rb := configRank(a.Name), configRank(b.Name); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})

	l.logger.Debug("Loaded tier layers", "tier", t.String(), "document", documentID, "count", len(layers))
	return layers, nil
}

// Classify maps a file path relative to a document directory onto a layer kind.
func Classify(rel string) (Kind, bool) {
	if strings.HasPrefix(rel, HooksDir+"/") {
		return HookOverride, true
	}
	if strings.HasPrefix(rel, ScriptsDir+"/") {
		return ScriptOverride, true
	}
	if strings.Contains(rel, "/") {
		return "", false
	}
	switch {
	case rel == FullFile || strings.HasSuffix(rel, ".full.md"):
		return FullOverride, true
	case rel == PatchFile || strings.HasSuffix(rel, ".patch.md"):
		return SectionPatch, true
	case rel == ExtendFile || strings.HasSuffix(rel, ".extend.md"):
		return Extension, true
	case configRank(rel) < len(configFiles):
		return ConfigOverride, true
	}
	return "", false
}

func (l *Loader) decode(t tier.Tier, documentID string, kind Kind, rel, path string) (*Layer, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		if errors.CodeOf(err) == errors.TransientRead {
			return nil, err
		}
		return nil, errors.NewSkrefError(errors.StorageError, "read "+path, err)
	}

	layer := &Layer{
		Tier:       t,
		DocumentID: documentID,
		Kind:       kind,
		Name:       rel,
		Path:       path,
		Checksum:   snap.Checksum,
		Mode:       snap.Mode,
	}
	fail := func(err error) error {
		return errors.Wrapf(err, "%s layer %s", t, rel).
			WithDetails(errors.PatchDetails{Tier: t.String(), Layer: rel})
	}

	switch kind {
	case FullOverride:
		doc, err := section.Parse(string(snap.Content))
		if err != nil {
			return nil, fail(err)
		}
		layer.Document = doc.WithMeta(documentID, 0, t)
	case SectionPatch, Extension:
		ops, err := patch.ParseFile(string(snap.Content))
		if err != nil {
			return nil, fail(err)
		}
		if kind == Extension {
			for i, op := range ops {
				if !op.Action.Additive() {
					return nil, fail(errors.Newf(errors.InvalidLayer,
						"block %d: extension layers may only add lines, found %s", i+1, op.Action))
				}
			}
		}
		layer.Ops = ops
	case ConfigOverride:
		cfg, err := decodeConfig(rel, snap.Content)
		if err != nil {
			return nil, fail(err)
		}
		layer.Config = cfg
	case HookOverride, ScriptOverride:
		layer.Artifact = snap.Content
	}
	return layer, nil
}
