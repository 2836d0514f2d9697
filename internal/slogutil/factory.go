package slogutil

import (
	"io"
	"log/slog"

	"skref/internal/config"
	"skref/internal/paths"
)

// Subsystems with their own log file under <home>/logs.
const (
	SubsystemEngine = "engine"
	SubsystemLedger = "ledger"
	SubsystemWatch  = "watch"
)

// LoggerFactory creates per-subsystem loggers.
// Level precedence: CLI flag > subsystem config > global config > info.
type LoggerFactory struct {
	home     string
	config   *config.Config
	cliLevel *slog.Level
	console  slog.Handler
	closers  []io.Closer
}

// NewLoggerFactory creates a factory writing under home. cliLevel is nil
// when no level was given on the command line. console, when non-nil,
// receives every record as well.
func NewLoggerFactory(home string, cfg *config.Config, cliLevel *slog.Level, console slog.Handler) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{home: home, config: cfg, cliLevel: cliLevel, console: console}
}

// EngineLogger logs resolution and promotion activity to logs/engine.log.
func (f *LoggerFactory) EngineLogger() *slog.Logger {
	return f.logger(SubsystemEngine)
}

// LedgerLogger logs ledger transactions to logs/ledger.log.
func (f *LoggerFactory) LedgerLogger() *slog.Logger {
	return f.logger(SubsystemLedger)
}

// WatchLogger logs file watching to logs/watch.log.
func (f *LoggerFactory) WatchLogger() *slog.Logger {
	return f.logger(SubsystemWatch)
}

// logger never fails: when the log file cannot be opened the subsystem
// falls back to the console handler, or to discarding.
func (f *LoggerFactory) logger(subsystem string) *slog.Logger {
	fallback := func() *slog.Logger {
		if f.console != nil {
			return slog.New(f.console).With("subsystem", subsystem)
		}
		return NewDiscardLogger()
	}
	if f.home == "" {
		return fallback()
	}
	logger, closer, err := f.createFileLogger(paths.LogPath(f.home, subsystem), f.EffectiveLevel(subsystem))
	if err != nil {
		return fallback()
	}
	f.closers = append(f.closers, closer)

	if f.console != nil {
		logger = NewTeeLogger(logger.Handler(), f.console)
	}
	return logger.With("subsystem", subsystem)
}

func (f *LoggerFactory) createFileLogger(path string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if f.config.Logging.MaxSize != "" {
		return NewRotatingFileLogger(path, level, f.config.Logging.MaxSize, f.config.Logging.MaxBackups)
	}
	return NewFileLogger(path, level)
}

// EffectiveLevel returns the level a subsystem logs at.
func (f *LoggerFactory) EffectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}

	var level string
	switch subsystem {
	case SubsystemEngine:
		level = f.config.Logging.Engine
	case SubsystemLedger:
		level = f.config.Logging.Ledger
	case SubsystemWatch:
		level = f.config.Logging.Watch
	}
	if level != "" {
		return LevelFromString(level)
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
