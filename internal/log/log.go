// Package log provides category-scoped structured logging for crewchat.
//
// Call sites pass a Category plus alternating key/value pairs:
//
//	log.Debug(log.CatDB, "Opening database", "path", path)
//	log.ErrorErr(log.CatLLM, "Completion failed", err, "model", model)
//
// The package is a no-op until Init is called, which keeps tests quiet.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Category groups log lines by subsystem.
type Category string

const (
	CatDB       Category = "db"
	CatLLM      Category = "llm"
	CatWorkflow Category = "workflow"
	CatCoord    Category = "coordinator"
	CatHTTP     Category = "http"
	CatClient   Category = "client"
	CatConfig   Category = "config"
	CatPubSub   Category = "pubsub"
)

// Config controls where and how verbosely logs are written.
type Config struct {
	Level  string // debug, info, warn, error
	File   string // empty writes to stderr
	Pretty bool   // human-readable console output
}

var (
	mu     sync.RWMutex
	logger = zerolog.Nop()
)

// Init configures the package logger. The returned func closes the log file,
// if one was opened, and must be called on shutdown.
func Init(cfg Config) (func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // path comes from config
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: cfg.File != ""}
	}

	SetLogger(zerolog.New(out).Level(level).With().Timestamp().Logger())
	return closeFn, nil
}

// SetLogger replaces the package logger. Tests use it to capture output.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// ParseLevel maps a config level name onto a zerolog level.
// An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return &l
}

func write(e *zerolog.Event, cat Category, msg string, kv []any) {
	if e == nil {
		return
	}
	e = e.Str("cat", string(cat))
	if len(kv) > 0 {
		if len(kv)%2 != 0 {
			kv = append(kv, "(MISSING)")
		}
		e = e.Fields(kv)
	}
	e.Msg(msg)
}

// Debug logs at debug level.
func Debug(cat Category, msg string, kv ...any) { write(current().Debug(), cat, msg, kv) }

// Info logs at info level.
func Info(cat Category, msg string, kv ...any) { write(current().Info(), cat, msg, kv) }

// Warn logs at warn level.
func Warn(cat Category, msg string, kv ...any) { write(current().Warn(), cat, msg, kv) }

// Error logs at error level.
func Error(cat Category, msg string, kv ...any) { write(current().Error(), cat, msg, kv) }

// ErrorErr logs at error level with err attached.
func ErrorErr(cat Category, msg string, err error, kv ...any) {
	write(current().Error().Err(err), cat, msg, kv)
}

// SafeGo runs fn on a new goroutine and logs, rather than crashes on, a panic.
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(name string) {
	if r := recover(); r != nil {
		Error(CatCoord, "Recovered panic in goroutine",
			"goroutine", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	}
}
