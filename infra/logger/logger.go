package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	corelogger "github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/model"
)

// Alias the core interface for convenience.
// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.NopLogger

// DefaultPath keeps diagnostics away from the packet stream.
const DefaultPath = "/tmp/vehicle_simulator.log"

// Config selects the log target and level.
type Config struct {
	Level      string `json:"level"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	// Console adds a human readable writer on stderr.
	Console bool `json:"console"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{Level: "info", Path: DefaultPath, MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7}
}

// Validate checks the level and rotation settings.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return model.NewConfigurationError("logging", "rotation settings must not be negative")
	}
	return nil
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, model.NewConfigurationError("log level", "unknown level %q (valid: debug, info, warn, error)", s)
	}
}

// Provider owns the log target. Components obtain their logger from New;
// Close releases the file once the run is over.
type Provider struct {
	base      zerolog.Logger
	file      *lumberjack.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open builds a Provider from cfg. The file target rotates through
// lumberjack; Console, or APP_ENV=dev, adds a ConsoleWriter on stderr.
func Open(cfg Config) (*Provider, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	p := &Provider{}
	var writers []io.Writer
	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("log directory: %w", err)
			}
		}
		p.file = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, p.file)
	}
	if cfg.Console || strings.ToLower(os.Getenv("APP_ENV")) == "dev" || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	p.base = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return p, nil
}

// NewProvider writes JSON lines to w. It is mostly useful in tests.
func NewProvider(w io.Writer, level string) (*Provider, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return &Provider{base: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}, nil
}

// New returns a Logger tagging every entry with component.
func (p *Provider) New(component string) Logger {
	if p == nil {
		return NopLogger{}
	}
	return &ZerologLogger{log: p.base.With().Str("component", component).Logger()}
}

// Close flushes and closes the log file. It is safe to call more than once.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if p.file != nil {
			p.closeErr = p.file.Close()
		}
	})
	return p.closeErr
}
