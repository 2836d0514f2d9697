package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetHome(t *testing.T) {
	customHome := "/custom/skref/home"
	t.Setenv(HomeEnvVar, customHome)

	home, err := GetHome()
	if err != nil {
		t.Fatalf("GetHome failed: %v", err)
	}
	if home != customHome {
		t.Errorf("Expected %s, got %s", customHome, home)
	}

	t.Setenv(HomeEnvVar, "")
	home, err = GetHome()
	if err != nil {
		t.Fatalf("GetHome failed: %v", err)
	}
	if !strings.HasSuffix(home, DefaultHome) {
		t.Errorf("Expected path to end with %s, got %s", DefaultHome, home)
	}
}

func TestHomePaths(t *testing.T) {
	home := "/srv/skref"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", ConfigPath(home), filepath.Join(home, ConfigFile)},
		{"projects", ProjectsPath(home), filepath.Join(home, ProjectsFile)},
		{"projects lock", ProjectsLockPath(home), filepath.Join(home, LocksSubdir, ProjectsLockFile)},
		{"base", BaseDir(home), filepath.Join(home, BaseSubdir)},
		{"user", UserDir(home), filepath.Join(home, UserSubdir)},
		{"ledger", LedgerPath(home), filepath.Join(home, LedgerSubdir, LedgerFile)},
		{"base lock", BaseLockPath(home), filepath.Join(home, LocksSubdir, BaseLockFile)},
		{"logs", LogsDir(home), filepath.Join(home, LogsSubdir)},
		{"ledger log", LogPath(home, "ledger"), filepath.Join(home, LogsSubdir, "ledger.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")

	if err := EnsureHome(home); err != nil {
		t.Fatalf("EnsureHome failed: %v", err)
	}
	for _, sub := range []string{BaseSubdir, UserSubdir, LedgerSubdir, LocksSubdir, LogsSubdir} {
		info, err := os.Stat(filepath.Join(home, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("%s was not created: %v", sub, err)
		}
	}
}

func TestCanonicalizePath(t *testing.T) {
	root := t.TempDir()
	got, err := CanonicalizePath(filepath.Join(root, "a", "b.md"), root)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a/b.md" {
		t.Errorf("CanonicalizePath = %q, want a/b.md", got)
	}
}

func TestIsWithin(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		path string
		want bool
	}{
		{root, true},
		{filepath.Join(root, "sub", "file"), true},
		{filepath.Dir(root), false},
		{filepath.Join(filepath.Dir(root), "..sibling"), false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.path, root); got != tt.want {
			t.Errorf("IsWithin(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/skills"); got != filepath.Join(home, "skills") {
		t.Errorf("ExpandHome = %s", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome(/abs) = %s", got)
	}
}
