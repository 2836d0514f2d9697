package basestore

import (
	"context"
	"os"
	"time"

	"skref/internal/errors"
	"skref/internal/filelock"
	"skref/internal/layers"
	"skref/internal/section"
)

// backup is the pre-write state of one document.
type backup struct {
	content []byte // nil when the document did not exist
	entry   *Entry // nil when the manifest had no record
}

// Writer holds the base tier write lock. Every document it writes is backed
// up first so that Rollback can restore the tier.
type Writer struct {
	s       *Store
	lock    *filelock.Lock
	backups map[string]backup
	order   []string
}

// Begin acquires the base tier write lock, waiting at most the configured
// timeout.
func (s *Store) Begin(ctx context.Context) (*Writer, error) {
	lock, err := filelock.Acquire(ctx, s.lockPath, s.timeout, s.poll)
	if err != nil {
		return nil, err
	}
	return &Writer{s: s, lock: lock, backups: map[string]backup{}}, nil
}

// Load reads a document under the write lock together with its manifest
// record.
func (w *Writer) Load(ctx context.Context, id string) (*section.Document, Entry, error) {
	doc, err := w.s.Load(ctx, id)
	if err != nil {
		return nil, Entry{}, err
	}
	entry, err := w.s.Entry(id)
	if err != nil {
		return nil, Entry{}, err
	}
	return doc, entry, nil
}

// Write replaces a document and bumps its version. patternID records the
// promotion responsible, if any.
func (w *Writer) Write(id string, content []byte, patternID string) (Entry, error) {
	if err := layers.ValidateDocumentID(id); err != nil {
		return Entry{}, err
	}
	if _, err := section.Parse(string(content)); err != nil {
		return Entry{}, errors.Wrapf(err, "base document %s", id)
	}

	m, err := w.s.readManifest()
	if err != nil {
		return Entry{}, err
	}
	if err := w.backup(id, m); err != nil {
		return Entry{}, err
	}

	prev, ok := m.Documents[id]
	if !ok {
		prev.Version = 0
		if _, err := os.Stat(w.s.DocumentPath(id)); err == nil {
			prev.Version = 1
		}
	}
	entry := Entry{
		ID:        id,
		Version:   prev.Version + 1,
		Checksum:  layers.Checksum(content),
		UpdatedAt: time.Now().UTC(),
		PatternID: patternID,
	}

	if err := writeAtomic(w.s.DocumentPath(id), content, 0644); err != nil {
		return Entry{}, err
	}
	m.Documents[id] = entry
	if err := w.s.writeManifest(m); err != nil {
		return Entry{}, err
	}

	w.s.logger.Info("Base document written", "document", id, "version", entry.Version, "pattern", patternID)
	return entry, nil
}

func (w *Writer) backup(id string, m *manifest) error {
	if _, done := w.backups[id]; done {
		return nil
	}
	var b backup
	data, err := os.ReadFile(w.s.DocumentPath(id))
	switch {
	case err == nil:
		b.content = data
	case !os.IsNotExist(err):
		return errors.NewSkrefError(errors.StorageError, "back up base document "+id, err)
	}
	if e, ok := m.Documents[id]; ok {
		b.entry = &e
	}
	w.backups[id] = b
	w.order = append(w.order, id)
	return nil
}

// Rollback restores every document written through w to its pre-write state.
func (w *Writer) Rollback() error {
	m, err := w.s.readManifest()
	if err != nil {
		return err
	}
	var firstErr error
	for i := len(w.order) - 1; i >= 0; i-- {
		id := w.order[i]
		b := w.backups[id]
		if b.content == nil {
			if err := os.Remove(w.s.DocumentPath(id)); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = errors.NewSkrefError(errors.StorageError, "remove base document "+id, err)
			}
		} else if err := writeAtomic(w.s.DocumentPath(id), b.content, 0644); err != nil && firstErr == nil {
			firstErr = err
		}
		if b.entry == nil {
			delete(m.Documents, id)
		} else {
			m.Documents[id] = *b.entry
		}
	}
	if err := w.s.writeManifest(m); err != nil && firstErr == nil {
		firstErr = err
	}
	w.backups = map[string]backup{}
	w.order = nil
	if firstErr == nil {
		w.s.logger.Warn("Base tier rolled back")
	}
	return firstErr
}

// Close releases the write lock.
func (w *Writer) Close() {
	w.lock.Release()
}
