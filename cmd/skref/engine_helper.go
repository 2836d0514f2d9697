package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"skref/internal/config"
	"skref/internal/engine"
	"skref/internal/paths"
	"skref/internal/slogutil"
)

// cliEnv is what a command needs to run against a skref home.
type cliEnv struct {
	home    string
	config  *config.Config
	factory *slogutil.LoggerFactory
	engine  *engine.Engine
}

func (c *cliEnv) Close() {
	_ = c.engine.Close()
	_ = c.factory.Close()
}

// resolveHome returns the home from --home, SKREF_HOME or ~/.skref.
func resolveHome() (string, error) {
	if homeFlag != "" {
		return filepath.Abs(paths.ExpandHome(homeFlag))
	}
	return paths.GetHome()
}

// cliLevel is the level forced by -v/-q, or nil to defer to config.
func cliLevel() *slog.Level {
	if verbosity == 0 && !quietFlag {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
	return &level
}

// openEnv loads configuration and opens the engine. Callers must Close it.
func openEnv() (*cliEnv, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(home)
	if err != nil {
		return nil, err
	}

	console := slogutil.NewHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogutil.LevelFromVerbosity(verbosity, quietFlag),
	})
	factory := slogutil.NewLoggerFactory(home, cfg, cliLevel(), console)

	e, err := engine.Open(home, cfg, factory)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return &cliEnv{home: home, config: cfg, factory: factory, engine: e}, nil
}

// newContext returns a context cancelled on interrupt.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// readInput reads a file argument, with "-" meaning stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// rangeArgs is cobra.RangeArgs reporting a usage error.
func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
