package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel atomic.Int32
	levelOnce    sync.Once

	slogLevel  = new(slog.LevelVar)
	handlerMu  sync.RWMutex
	rootLogger *slog.Logger
)

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		// DEBUG wins over LOG_LEVEL
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				setLevel(LevelDebug)
				return
			}
		}

		setLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	})
}

// ParseLevel converts a level name to a LogLevel. Unknown names map to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func setLevel(l LogLevel) {
	currentLevel.Store(int32(l))
	slogLevel.Set(l.slog())
}

// SetLevel overrides the level picked up from the environment.
func SetLevel(l LogLevel) {
	initLevel()
	setLevel(l)
}

// Options controls the output handler.
type Options struct {
	// Format is "text" (tint, default) or "json".
	Format string
	// NoColor disables ANSI colors for the text format.
	NoColor bool
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// Configure replaces the output handler. Call once at startup, before
// concurrent logging begins.
func Configure(opts Options) {
	initLevel()

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
			NoColor:    opts.NoColor,
		})
	}

	handlerMu.Lock()
	rootLogger = slog.New(h)
	handlerMu.Unlock()
}

func logger() *slog.Logger {
	handlerMu.RLock()
	l := rootLogger
	handlerMu.RUnlock()
	if l != nil {
		return l
	}

	handlerMu.Lock()
	defer handlerMu.Unlock()
	if rootLogger == nil {
		rootLogger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}
	return rootLogger
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return LogLevel(currentLevel.Load())
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func logf(l LogLevel, attrs []any, format string, args ...interface{}) {
	if GetLevel() > l {
		return
	}
	logger().Log(context.Background(), l.slog(), fmt.Sprintf(format, args...), attrs...)
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	logf(LevelDebug, nil, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	logf(LevelInfo, nil, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	logf(LevelWarn, nil, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	logf(LevelError, nil, format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	logger().Log(context.Background(), slog.LevelError, "[FATAL] "+fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Printf logs at info level regardless of the configured level
func Printf(format string, args ...interface{}) {
	logger().Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Println logs at info level regardless of the configured level
func Println(args ...interface{}) {
	logger().Log(context.Background(), slog.LevelInfo, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Tagged is a logger that stamps every record with a component tag.
type Tagged struct {
	tag string
}

// Tag returns a logger for the named component.
func Tag(name string) *Tagged {
	return &Tagged{tag: name}
}

// Name returns the tag.
func (t *Tagged) Name() string {
	return t.tag
}

func (t *Tagged) Debug(format string, args ...interface{}) {
	logf(LevelDebug, []any{"tag", t.tag}, format, args...)
}

func (t *Tagged) Info(format string, args ...interface{}) {
	logf(LevelInfo, []any{"tag", t.tag}, format, args...)
}

func (t *Tagged) Warn(format string, args ...interface{}) {
	logf(LevelWarn, []any{"tag", t.tag}, format, args...)
}

func (t *Tagged) Error(format string, args ...interface{}) {
	logf(LevelError, []any{"tag", t.tag}, format, args...)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
