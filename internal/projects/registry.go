// Package projects maps project ids onto project root directories.
package projects

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"skref/internal/errors"
	"skref/internal/filelock"
	"skref/internal/paths"
)

// Project is a registered project.
type Project struct {
	// UID is the immutable identifier for this project (never changes)
	UID string `toml:"uid" json:"uid"`

	// ID is the human-friendly alias used on the command line
	ID string `toml:"id" json:"id"`

	// Path is the absolute, cleaned project root
	Path string `toml:"path" json:"path"`

	AddedAt time.Time `toml:"added_at" json:"addedAt"`
}

// file is the on-disk shape of projects.toml.
type file struct {
	Version   int       `toml:"version"`
	UpdatedAt time.Time `toml:"updated_at"`
	Projects  []Project `toml:"projects"`
}

const currentRegistryVersion = 1

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks if a project id is valid.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("project id must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// Registry is the project registry stored in projects.toml.
type Registry struct {
	path     string
	lockPath string
	timeout  time.Duration
	poll     time.Duration
}

// Open returns a registry backed by path. Writers serialize on lockPath,
// waiting at most timeout.
func Open(path, lockPath string, timeout, poll time.Duration) *Registry {
	return &Registry{path: path, lockPath: lockPath, timeout: timeout, poll: poll}
}

// OpenHome opens the registry kept in a skref home directory.
func OpenHome(home string, timeout, poll time.Duration) *Registry {
	return Open(paths.ProjectsPath(home), paths.ProjectsLockPath(home), timeout, poll)
}

func (r *Registry) load() (*file, error) {
	f := &file{Version: currentRegistryVersion}
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to read project registry", err)
	}
	if _, err := toml.Decode(string(data), f); err != nil {
		return nil, errors.NewSkrefError(errors.StorageError, "failed to parse project registry", err)
	}
	if f.Version > currentRegistryVersion {
		return nil, errors.Newf(errors.StorageError,
			"project registry version %d not supported (max: %d)", f.Version, currentRegistryVersion)
	}
	return f, nil
}

// update runs fn against the registry under the write lock and saves the
// result atomically.
func (r *Registry) update(ctx context.Context, fn func(f *file) error) error {
	lock, err := filelock.Acquire(ctx, r.lockPath, r.timeout, r.poll)
	if err != nil {
		return err
	}
	defer lock.Release()

	f, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}

	f.Version = currentRegistryVersion
	f.UpdatedAt = time.Now().UTC()
	sort.Slice(f.Projects, func(i, j int) bool { return f.Projects[i].ID < f.Projects[j].ID })

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to encode project registry", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to create registry directory", err)
	}

	// Write atomically
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return errors.NewSkrefError(errors.StorageError, "failed to write project registry", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewSkrefError(errors.StorageError, "failed to rename project registry", err)
	}
	return nil
}

// Add registers a project directory under id.
func (r *Registry) Add(ctx context.Context, id, dir string) (*Project, error) {
	if err := ValidateID(id); err != nil {
		return nil, errors.NewSkrefError(errors.InvalidOperation, "invalid project id", err)
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, errors.Newf(errors.ProjectNotFound, "path does not exist: %s", absPath)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ProjectNotFound, "path is not a directory: %s", absPath)
	}

	var added Project
	err = r.update(ctx, func(f *file) error {
		for _, p := range f.Projects {
			if p.ID == id {
				return errors.Newf(errors.InvalidOperation, "project '%s' already exists", id)
			}
			if p.Path == absPath {
				return errors.Newf(errors.InvalidOperation, "project at path %q already exists (as %q)", absPath, p.ID)
			}
		}
		added = Project{
			UID:     uuid.New().String(),
			ID:      id,
			Path:    absPath,
			AddedAt: time.Now().UTC(),
		}
		f.Projects = append(f.Projects, added)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// Remove unregisters a project.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.update(ctx, func(f *file) error {
		for i, p := range f.Projects {
			if p.ID == id {
				f.Projects = append(f.Projects[:i], f.Projects[i+1:]...)
				return nil
			}
		}
		return errors.Newf(errors.ProjectNotFound, "project '%s' not found", id)
	})
}

// Get returns a registered project.
func (r *Registry) Get(id string) (*Project, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range f.Projects {
		if f.Projects[i].ID == id {
			return &f.Projects[i], nil
		}
	}
	return nil, errors.Newf(errors.ProjectNotFound, "project '%s' not found", id)
}

// List returns all registered projects ordered by id.
func (r *Registry) List() ([]Project, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	out := append([]Project(nil), f.Projects...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindByPath returns the registered project whose root contains dir,
// preferring the deepest root.
func (r *Registry) FindByPath(dir string) (*Project, error) {
	list, err := r.List()
	if err != nil {
		return nil, err
	}
	var best *Project
	for i := range list {
		if !paths.IsWithin(dir, list[i].Path) {
			continue
		}
		if best == nil || len(list[i].Path) > len(best.Path) {
			best = &list[i]
		}
	}
	if best == nil {
		return nil, errors.Newf(errors.ProjectNotFound, "no project registered for path: %s", dir)
	}
	return best, nil
}

// Resolve maps a project id onto its root directory. Registered ids win;
// otherwise an existing directory path is accepted as-is. An empty id
// resolves to no project.
func (r *Registry) Resolve(id string) (string, error) {
	if id == "" {
		return "", nil
	}

	p, err := r.Get(id)
	if err == nil {
		info, statErr := os.Stat(p.Path)
		if statErr != nil || !info.IsDir() {
			return "", errors.Newf(errors.ProjectNotFound, "project '%s' directory is missing: %s", id, p.Path)
		}
		return p.Path, nil
	}
	if !errors.Is(err, errors.ProjectNotFound) {
		return "", err
	}

	if info, statErr := os.Stat(id); statErr == nil && info.IsDir() {
		abs, absErr := filepath.Abs(id)
		if absErr != nil {
			return "", fmt.Errorf("failed to resolve path: %w", absErr)
		}
		return filepath.Clean(abs), nil
	}
	return "", err
}
