// Package logger provides component-scoped logging for deskclaw.
//
// Log lines carry a component tag ("dispatch", "consent", "slack", ...) so
// that one gateway process with many concurrent turns stays greppable.
package logger

import (
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu  sync.RWMutex
	log = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           charmlog.InfoLevel,
		ReportTimestamp: true,
	})
)

// SetLevel changes the minimum level emitted by the package logger.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log.SetLevel(charmLevel(level))
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w *os.File) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func charmLevel(level Level) charmlog.Level {
	switch level {
	case DEBUG:
		return charmlog.DebugLevel
	case WARN:
		return charmlog.WarnLevel
	case ERROR:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func emit(fn func(any, ...any), component, msg string, fields map[string]any) {
	mu.RLock()
	defer mu.RUnlock()
	kv := make([]any, 0, 2+2*len(fields))
	kv = append(kv, "component", component)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	fn(msg, kv...)
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { DebugCF(component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]any) {
	emit(log.Debug, component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { InfoCF(component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]any) {
	emit(log.Info, component, msg, fields)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { WarnCF(component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]any) {
	emit(log.Warn, component, msg, fields)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { ErrorCF(component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]any) {
	emit(log.Error, component, msg, fields)
}
