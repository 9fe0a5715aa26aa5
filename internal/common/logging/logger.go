// Package logging is the structured logger every roomgraph component
// writes through. Components derive a tagged logger with Component and add
// fields with WithFields; the zap adapter does the writing.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger is the structured logging interface. Error takes the error apart
// from the fields so that it always lands under the same key.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig selects the level and destination of a logger; a nil Output
// means stdout.
type LogConfig struct {
	Level  LogLevel
	Output io.Writer
}

var global struct {
	sync.RWMutex
	logger Logger
}

func SetGlobalLogger(logger Logger) {
	global.Lock()
	global.logger = logger
	global.Unlock()
}

// GetGlobalLogger returns the process logger, creating an info level
// stdout logger if Init has not run.
func GetGlobalLogger() Logger {
	global.RLock()
	logger := global.logger
	global.RUnlock()
	if logger != nil {
		return logger
	}

	global.Lock()
	defer global.Unlock()
	if global.logger == nil {
		global.logger = NewDefaultLogger()
	}
	return global.logger
}

// NewDefaultLogger writes to stdout at info level
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// Init replaces the global logger. An empty file name logs to stdout;
// otherwise the file is appended to.
func Init(level, file string) error {
	config := LogConfig{Level: ParseLevel(level)}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", file, err)
		}
		config.Output = f
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Debug("Logger initialized",
		String("level", config.Level.String()),
		String("log_file", file),
	)
	return nil
}

// MustSync flushes the global logger; call it before exiting
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// Component returns the global logger tagged with a component name
func Component(name string) Logger {
	return GetGlobalLogger().WithFields(String("component", name))
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { GetGlobalLogger().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { GetGlobalLogger().Error(msg, err, fields...) }

// Nop returns a logger that discards everything
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field)               {}
func (nopLogger) Info(string, ...Field)                {}
func (nopLogger) Warn(string, ...Field)                {}
func (nopLogger) Error(string, error, ...Field)        {}
func (n nopLogger) WithFields(...Field) Logger         { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
