// Package basestore owns the shared base tier: one document per id under
// <root>/<id>/SKILL.md plus a base.toml manifest recording versions.
//
// Readers take a snapshot and never lock. Writers serialize on a file lock
// and replace files atomically, so a reader sees either the old or the new
// document.
package basestore

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"skref/internal/errors"
	"skref/internal/layers"
	"skref/internal/paths"
	"skref/internal/section"
	"skref/internal/tier"
)

// Entry is the manifest record for one base document.
type Entry struct {
	ID        string    `toml:"-" json:"id"`
	Version   int       `toml:"version" json:"version"`
	Checksum  string    `toml:"checksum" json:"checksum,omitempty"`
	UpdatedAt time.Time `toml:"updated_at" json:"updatedAt"`
	// PatternID names the promotion that produced this version, if any.
	PatternID string `toml:"pattern_id,omitempty" json:"patternId,omitempty"`
}

type manifest struct {
	Documents map[string]Entry `toml:"documents"`
}

// Store is the base tier on disk.
type Store struct {
	root     string
	lockPath string
	timeout  time.Duration
	poll     time.Duration
	logger   *slog.Logger
}

// Options configures the writer lock.
type Options struct {
	LockPath    string
	LockTimeout time.Duration
	LockPoll    time.Duration
}

// Open returns a store rooted at root.
func Open(root string, opts Options, logger *slog.Logger) *Store {
	return &Store{
		root:     root,
		lockPath: opts.LockPath,
		timeout:  opts.LockTimeout,
		poll:     opts.LockPoll,
		logger:   logger,
	}
}

// Root returns the base tier directory.
func (s *Store) Root() string {
	return s.root
}

// DocumentPath returns the file holding a base document.
func (s *Store) DocumentPath(id string) string {
	return filepath.Join(s.root, id, layers.FullFile)
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.root, paths.BaseManifestFile)
}

func (s *Store) readManifest() (*manifest, error) {
	m := &manifest{Documents: map[string]Entry{}}
	data, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to read base manifest", err)
	}
	if _, err := toml.Decode(string(data), m); err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to parse base manifest", err)
	}
	if m.Documents == nil {
		m.Documents = map[string]Entry{}
	}
	for id, e := range m.Documents {
		e.ID = id
		m.Documents[id] = e
	}
	return m, nil
}

func (s *Store) writeManifest(m *manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to encode base manifest", err)
	}
	return writeAtomic(s.manifestPath(), buf.Bytes(), 0644)
}

// Entry returns the manifest record of a document. Documents present on
// disk without a record report version 1.
func (s *Store) Entry(id string) (Entry, error) {
	if err := layers.ValidateDocumentID(id); err != nil {
		return Entry{}, err
	}
	m, err := s.readManifest()
	if err != nil {
		return Entry{}, err
	}
	if e, ok := m.Documents[id]; ok {
		return e, nil
	}
	if _, err := os.Stat(s.DocumentPath(id)); err != nil {
		return Entry{}, errors.Newf(errors.BaseDocumentMissing, "no base document for %q", id)
	}
	return Entry{ID: id, Version: 1}, nil
}

// Load reads a base document as a consistent snapshot. When the manifest
// records a checksum the snapshot must match it; a mismatch seen twice in a
// row means the file was changed outside the store.
func (s *Store) Load(ctx context.Context, id string) (*section.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := layers.ValidateDocumentID(id); err != nil {
		return nil, err
	}

	var (
		snap  *layers.Snapshot
		entry Entry
		err   error
	)
	for attempt := 0; attempt < 2; attempt++ {
		snap, entry, err = s.read(id)
		if err != nil {
			return nil, err
		}
		if entry.Checksum == "" || entry.Checksum == snap.Checksum {
			break
		}
		if attempt == 1 {
			return nil, errors.Newf(errors.StorageError,
				"base document %s does not match its manifest checksum (version %d)", id, entry.Version)
		}
		// A writer may sit between replacing the file and the manifest.
		s.logger.Debug("Base checksum mismatch, re-reading", "document", id, "version", entry.Version)
	}

	doc, err := section.Parse(string(snap.Content))
	if err != nil {
		return nil, errors.Wrapf(err, "base document %s", id)
	}
	return doc.WithMeta(id, entry.Version, tier.Base), nil
}

func (s *Store) read(id string) (*layers.Snapshot, Entry, error) {
	snap, err := layers.ReadSnapshot(s.DocumentPath(id))
	if os.IsNotExist(err) {
		return nil, Entry{}, errors.Newf(errors.BaseDocumentMissing, "no base document for %q", id)
	}
	if err != nil {
		if errors.Is(err, errors.TransientRead) {
			return nil, Entry{}, err
		}
		return nil, Entry{}, errors.NewSkrefError(errors.StorageError, "read base document "+id, err)
	}
	entry, err := s.Entry(id)
	if err != nil {
		return nil, Entry{}, err
	}
	return snap, entry, nil
}

// List returns the manifest records of every base document, ordered by id.
func (s *Store) List() ([]Entry, error) {
	m, err := s.readManifest()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewSkrefError(errors.StorageError, "list base documents", err)
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		if _, ok := m.Documents[de.Name()]; ok {
			continue
		}
		if _, err := os.Stat(s.DocumentPath(de.Name())); err == nil {
			m.Documents[de.Name()] = Entry{ID: de.Name(), Version: 1}
		}
	}

	out := make([]Entry, 0, len(m.Documents))
	for _, e := range m.Documents {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put replaces a base document, bumping its version.
func (s *Store) Put(ctx context.Context, id string, content []byte) (Entry, error) {
	w, err := s.Begin(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer w.Close()

	entry, err := w.Write(id, content, "")
	if err != nil {
		if rbErr := w.Rollback(); rbErr != nil {
			s.logger.Error("Base rollback failed", "document", id, "error", rbErr.Error())
		}
		return Entry{}, err
	}
	return entry, nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to create directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmpPath, mode)
	}
	if werr != nil {
		_ = os.Remove(tmpPath)
		return errors.NewSkrefError(errors.StorageError, "failed to write "+filepath.Base(path), werr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewSkrefError(errors.StorageError, "failed to rename "+filepath.Base(path), err)
	}
	return nil
}
