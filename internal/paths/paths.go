package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultHome is the home directory name under the user's home
	DefaultHome = ".skref"
	// HomeEnvVar overrides the home directory location
	HomeEnvVar = "SKREF_HOME"

	BaseSubdir   = "base"
	UserSubdir   = "user"
	LedgerSubdir = "ledger"
	LocksSubdir  = "locks"
	LogsSubdir   = "logs"

	ConfigFile       = "config.json"
	ProjectsFile     = "projects.toml"
	LedgerFile       = "ledger.db"
	BaseManifestFile = "base.toml"
	BaseLockFile     = "base.lock"
	ProjectsLockFile = "projects.lock"
)

// GetHome returns the skref home directory, honoring SKREF_HOME. A leading
// "~/" in the variable is expanded.
func GetHome() (string, error) {
	if env := os.Getenv(HomeEnvVar); env != "" {
		return ExpandHome(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultHome), nil
}

// ConfigPath returns <home>/config.json.
func ConfigPath(home string) string { return filepath.Join(home, ConfigFile) }

// ProjectsPath returns the project registry path.
func ProjectsPath(home string) string { return filepath.Join(home, ProjectsFile) }

// ProjectsLockPath returns the lock guarding the project registry.
func ProjectsLockPath(home string) string { return filepath.Join(home, LocksSubdir, ProjectsLockFile) }

// BaseDir returns the default base tier root.
func BaseDir(home string) string { return filepath.Join(home, BaseSubdir) }

// UserDir returns the default user tier root.
func UserDir(home string) string { return filepath.Join(home, UserSubdir) }

// LedgerPath returns the refinement ledger database path.
func LedgerPath(home string) string { return filepath.Join(home, LedgerSubdir, LedgerFile) }

// BaseLockPath returns the lock serializing base tier writers.
func BaseLockPath(home string) string { return filepath.Join(home, LocksSubdir, BaseLockFile) }

// LogsDir returns the log directory.
func LogsDir(home string) string { return filepath.Join(home, LogsSubdir) }

// LogPath returns the log file for a subsystem (engine, ledger, watch).
func LogPath(home, subsystem string) string {
	return filepath.Join(home, LogsSubdir, subsystem+".log")
}

// EnsureHome creates home and its fixed subdirectories.
func EnsureHome(home string) error {
	for _, sub := range []string{BaseSubdir, UserSubdir, LedgerSubdir, LocksSubdir, LogsSubdir} {
		if err := os.MkdirAll(filepath.Join(home, sub), 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// CanonicalizePath converts an absolute path to a root-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		// If the file doesn't exist yet, use the path as-is
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			rootResolved = root
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(relativePath), nil
}

// IsWithin checks if a path is inside root
func IsWithin(path string, root string) bool {
	canonical, err := CanonicalizePath(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}
