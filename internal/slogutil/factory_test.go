package slogutil

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"skref/internal/config"
	"skref/internal/paths"
)

func TestLoggerFactory_EffectiveLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Ledger = "debug"

	f := NewLoggerFactory("", cfg, nil, nil)
	if got := f.EffectiveLevel(SubsystemLedger); got != slog.LevelDebug {
		t.Errorf("ledger level = %v, want debug", got)
	}
	if got := f.EffectiveLevel(SubsystemEngine); got != slog.LevelWarn {
		t.Errorf("engine level = %v, want warn", got)
	}

	cli := slog.LevelError
	f = NewLoggerFactory("", cfg, &cli, nil)
	if got := f.EffectiveLevel(SubsystemLedger); got != slog.LevelError {
		t.Errorf("CLI level should win, got %v", got)
	}

	cfg.Logging.Level = ""
	f = NewLoggerFactory("", cfg, nil, nil)
	if got := f.EffectiveLevel(SubsystemWatch); got != slog.LevelInfo {
		t.Errorf("default level = %v, want info", got)
	}
}

func TestLoggerFactory_WritesSubsystemFiles(t *testing.T) {
	home := t.TempDir()
	var console bytes.Buffer
	f := NewLoggerFactory(home, config.DefaultConfig(), nil, NewHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}))

	f.EngineLogger().Info("Resolved document", "document", "error-lifecycle")
	f.LedgerLogger().Warn("Busy", "attempt", 2)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	engine, err := os.ReadFile(paths.LogPath(home, SubsystemEngine))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(engine), "Resolved document | subsystem=engine document=error-lifecycle") {
		t.Errorf("engine.log = %q", engine)
	}
	if _, err := os.Stat(paths.LogPath(home, SubsystemLedger)); err != nil {
		t.Errorf("ledger.log missing: %v", err)
	}

	// The console only receives warnings and above.
	if strings.Contains(console.String(), "Resolved document") || !strings.Contains(console.String(), "Busy") {
		t.Errorf("console = %q", console.String())
	}
}

func TestLoggerFactory_NoHomeDiscards(t *testing.T) {
	f := NewLoggerFactory("", nil, nil, nil)
	f.WatchLogger().Error("dropped")
	if err := f.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
