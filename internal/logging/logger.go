// Package logging provides structured logging for the motion core. It wraps
// log/slog with a yaml-configurable handler and hands out module-scoped
// loggers through a process-wide Manager.
package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Config describes where and how log records are written.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text, json
	Output     string `yaml:"output"`      // stdout, stderr, file
	OutputPath string `yaml:"output_path"` // used when Output is file
	AddSource  bool   `yaml:"add_source"`
}

// Logger is a slog.Logger that remembers the configuration it was built from.
type Logger struct {
	*slog.Logger
	config *Config
	level  *slog.LevelVar
}

// NewLogger builds a logger from config. A nil config means DefaultConfig.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(config.Level))

	handler, _, err := createHandler(config, level)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
		level:  level,
	}, nil
}

// DefaultConfig returns text logging at info level on stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHandler builds the handler config describes. The closer is the
// log file when Output is file, nil otherwise.
func createHandler(config *Config, level slog.Leveler) (slog.Handler, io.Closer, error) {
	var (
		writer io.Writer
		closer io.Closer
	)

	switch strings.ToLower(config.Output) {
	case "stderr":
		writer = os.Stderr
	case "file":
		if config.OutputPath == "" {
			config.OutputPath = "logs/biped.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		writer, closer = f, f
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	if strings.ToLower(config.Format) == "json" {
		return slog.NewJSONHandler(writer, opts), closer, nil
	}
	return slog.NewTextHandler(writer, opts), closer, nil
}

// switchHandler forwards records to the manager's current handler. Derived
// handlers replay their attributes and groups onto it, so a replaced target
// still receives the module attribute of loggers created earlier.
type switchHandler struct {
	target *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
}

func (h *switchHandler) current() slog.Handler {
	handler := *h.target.Load()
	for _, fn := range h.derive {
		handler = fn(handler)
	}
	return handler
}

func (h *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.target.Load()).Enabled(ctx, level)
}

func (h *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *switchHandler) with(fn func(slog.Handler) slog.Handler) *switchHandler {
	derive := make([]func(slog.Handler) slog.Handler, len(h.derive), len(h.derive)+1)
	copy(derive, h.derive)
	return &switchHandler{target: h.target, derive: append(derive, fn)}
}

func (h *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *switchHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

// With returns a logger carrying extra attributes. The level stays shared
// with the parent so UpdateLevel reaches every derived logger.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		level:  l.level,
	}
}

// WithGroup returns a logger that nests attributes under name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		Logger: l.Logger.WithGroup(name),
		config: l.config,
		level:  l.level,
	}
}

// UpdateLevel changes the minimum level at runtime.
func (l *Logger) UpdateLevel(level string) {
	l.config.Level = level
	l.level.Set(parseLevel(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// StdLogger bridges this logger to the standard library *log.Logger, for
// third-party clients that only accept one.
func (l *Logger) StdLogger(level slog.Level) *log.Logger {
	return slog.NewLogLogger(l.Handler(), level)
}

// GetConfig returns the configuration the logger was built from.
func (l *Logger) GetConfig() *Config {
	return l.config
}
