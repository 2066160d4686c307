package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"heatsurface/broker/internal/config"
)

var (
	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level represents log verbosity ordering.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "info"
	}
}

// ParseLevel maps a textual level onto a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// Logger emits JSON-formatted structured logs with optional contextual fields.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	writer syncWriter
	fields map[string]any
	exit   func(int)
}

type syncWriter interface {
	io.Writer
	Sync() error
}

type fanout []syncWriter

func (f fanout) Write(p []byte) (int, error) {
	for _, w := range f {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (f fanout) Sync() error {
	var firstErr error
	for _, w := range f {
		if err := w.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New constructs the service logger. Output always goes to stdout and, when a
// path is configured, to a rotating file as well. The logger becomes the global
// fallback returned by L.
func New(service string, cfg config.LoggingConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	writers := fanout{os.Stdout}
	if strings.TrimSpace(cfg.Path) != "" {
		file, err := newRotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		writers = append(fanout{file}, writers...)
	}
	logger := &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: writers,
		fields: map[string]any{"service": service},
		exit:   os.Exit,
	}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewWriter returns a logger writing to w, mainly for tests that inspect output.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: nopSync{w},
		fields: make(map[string]any),
		exit:   os.Exit,
	}
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return NewWriter(io.Discard, DebugLevel)
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	clone := *l
	clone.fields = make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for _, field := range fields {
		clone.fields[field.Key] = field.Value
	}
	return &clone
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return L().Enabled(level)
	}
	return level >= l.level
}

// Sync flushes buffered output to durable storage.
func (l *Logger) Sync() error {
	if l == nil || l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields...) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(InfoLevel, message, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(WarnLevel, message, fields...) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields...) }

// Fatal logs a fatal message and exits the process.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields...) }

func (l *Logger) log(level Level, message string, fields ...Field) {
	if l == nil {
		L().log(level, message, fields...)
		return
	}
	if level < l.level {
		return
	}
	entry := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	for _, field := range fields {
		entry[field.Key] = field.Value
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = message
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"level": "error", "message": "log encode failed", "error": err.Error()})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(append(data, '\n'))
	if level == FatalLevel {
		_ = l.writer.Sync()
		l.exit(1)
	}
}

type nopSync struct{ io.Writer }

func (nopSync) Sync() error { return nil }
