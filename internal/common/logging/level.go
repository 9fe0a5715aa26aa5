package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a logger writes
type LogLevel int8

const (
	DebugLevel = LogLevel(zapcore.DebugLevel)
	InfoLevel  = LogLevel(zapcore.InfoLevel)
	WarnLevel  = LogLevel(zapcore.WarnLevel)
	ErrorLevel = LogLevel(zapcore.ErrorLevel)
)

func (l LogLevel) String() string {
	return zapcore.Level(l).CapitalString()
}

// ParseLevel reads LOG_LEVEL style names. "warning" is accepted for warn;
// anything unknown means info.
func ParseLevel(name string) LogLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return WarnLevel
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil || level > zapcore.ErrorLevel {
		return InfoLevel
	}
	return LogLevel(level)
}
