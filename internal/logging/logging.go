package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/getsentry/sentry-go/slog"
	"github.com/owenthereal/ptyhost/internal/version"
	slogmulti "github.com/samber/slog-multi"
)

const (
	sentryFlushTimeout = 2 * time.Second
)

// Logger is a slog.Logger that owns the files and reporters its handlers
// write to. Close releases them.
type Logger struct {
	*slog.Logger
	closers []func() error
}

// Close flushes and releases every output, returning all failures joined.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}

// With returns a child logger sharing the parent's outputs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:  l.Logger.With(args...),
		closers: l.closers,
	}
}

type Option func(*config) error

type config struct {
	level    slog.Level
	text     bool
	outputs  []io.Writer
	handlers []slog.Handler
	closers  []func() error
}

// New builds a logger fanning out to every configured output. Without any
// output option it logs to stderr.
func New(opts ...Option) (*Logger, error) {
	cfg := &config{
		level: slog.LevelInfo,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			for _, c := range cfg.closers {
				_ = c()
			}
			return nil, err
		}
	}

	if len(cfg.outputs) == 0 {
		cfg.outputs = []io.Writer{os.Stderr}
	}

	w := io.MultiWriter(cfg.outputs...)
	ho := &slog.HandlerOptions{Level: cfg.level}
	if cfg.text {
		cfg.handlers = append(cfg.handlers, slog.NewTextHandler(w, ho))
	} else {
		cfg.handlers = append(cfg.handlers, slog.NewJSONHandler(w, ho))
	}

	return &Logger{
		Logger:  slog.New(slogmulti.Fanout(cfg.handlers...)),
		closers: cfg.closers,
	}, nil
}

// Must is New that panics on error.
func Must(opts ...Option) *Logger {
	logger, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return Must(Writer(io.Discard))
}

func Level(level slog.Level) Option {
	return func(c *config) error {
		c.level = level
		return nil
	}
}

func Debug() Option {
	return Level(slog.LevelDebug)
}

// Text switches from JSON to logfmt-style records.
func Text() Option {
	return func(c *config) error {
		c.text = true
		return nil
	}
}

func Console() Option {
	return Writer(os.Stderr)
}

// Writer adds w as an output.
func Writer(w io.Writer) Option {
	return func(c *config) error {
		c.outputs = append(c.outputs, w)
		return nil
	}
}

// File appends to path, creating it and its directory.
func File(path string) Option {
	return func(c *config) error {
		if path == "" {
			return fmt.Errorf("log file path is required")
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", path, err)
		}

		c.outputs = append(c.outputs, file)
		c.closers = append(c.closers, file.Close)
		return nil
	}
}

// Sentry reports error records to dsn. An empty dsn is a no-op.
func Sentry(dsn string) Option {
	return func(c *config) error {
		if dsn == "" {
			return nil
		}

		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Release:          "ptyhost@" + version.String(),
			AttachStacktrace: true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}

		c.handlers = append(c.handlers, slogsentry.Option{
			Level: slog.LevelError,
		}.NewSentryHandler(context.Background()))
		c.closers = append(c.closers, func() error {
			if !sentry.Flush(sentryFlushTimeout) {
				return fmt.Errorf("sentry flush timeout")
			}
			return nil
		})

		return nil
	}
}
