package projects

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skref/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	home := t.TempDir()
	return Open(filepath.Join(home, "projects.toml"), filepath.Join(home, "locks", "projects.lock"), time.Second, 10*time.Millisecond)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"web-app", false},
		{"svc_2", false},
		{"", true},
		{"has space", true},
		{"a/b", true},
	}
	for _, tt := range tests {
		if err := ValidateID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestAddGetRemove(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	dir := t.TempDir()

	p, err := reg.Add(ctx, "web", dir)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if p.UID == "" || p.AddedAt.IsZero() {
		t.Errorf("Add returned incomplete project: %+v", p)
	}

	got, err := reg.Get("web")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UID != p.UID || got.Path != filepath.Clean(dir) {
		t.Errorf("Get = %+v, want %+v", got, p)
	}

	data, err := os.ReadFile(reg.path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `id = "web"`) {
		t.Errorf("registry file missing entry:\n%s", data)
	}

	if _, err := reg.Add(ctx, "web", t.TempDir()); !errors.Is(err, errors.InvalidOperation) {
		t.Errorf("duplicate id error = %v", err)
	}
	if _, err := reg.Add(ctx, "other", dir); !errors.Is(err, errors.InvalidOperation) {
		t.Errorf("duplicate path error = %v", err)
	}
	if _, err := reg.Add(ctx, "missing", filepath.Join(dir, "nope")); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("missing dir error = %v", err)
	}

	if err := reg.Remove(ctx, "web"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := reg.Get("web"); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("Get after Remove = %v", err)
	}
	if err := reg.Remove(ctx, "web"); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("second Remove = %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := reg.Add(ctx, id, t.TempDir()); err != nil {
			t.Fatal(err)
		}
	}
	list, err := reg.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if strings.Join(ids, ",") != "alpha,mid,zeta" {
		t.Errorf("List order = %v", ids)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	dir := t.TempDir()
	if _, err := reg.Add(ctx, "web", dir); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Resolve("web")
	if err != nil || got != filepath.Clean(dir) {
		t.Errorf("Resolve(web) = %q, %v", got, err)
	}

	got, err = reg.Resolve("")
	if err != nil || got != "" {
		t.Errorf("Resolve(\"\") = %q, %v", got, err)
	}

	other := t.TempDir()
	got, err = reg.Resolve(other)
	if err != nil || got != filepath.Clean(other) {
		t.Errorf("Resolve(dir) = %q, %v", got, err)
	}

	if _, err := reg.Resolve("unknown"); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("Resolve(unknown) = %v, want PROJECT_NOT_FOUND", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Resolve("web"); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("Resolve with missing directory = %v", err)
	}
}

func TestFindByPath(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	outer := t.TempDir()
	inner := filepath.Join(outer, "services", "api")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "mono", outer); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "api", inner); err != nil {
		t.Fatal(err)
	}

	p, err := reg.FindByPath(filepath.Join(inner, "handlers"))
	if err != nil || p.ID != "api" {
		t.Errorf("FindByPath(inner) = %+v, %v", p, err)
	}
	p, err = reg.FindByPath(filepath.Join(outer, "docs"))
	if err != nil || p.ID != "mono" {
		t.Errorf("FindByPath(outer) = %+v, %v", p, err)
	}
	if _, err := reg.FindByPath(t.TempDir()); !errors.Is(err, errors.ProjectNotFound) {
		t.Errorf("FindByPath(unrelated) = %v", err)
	}
}
