package logging

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// RequestIDKey carries the API request id through a context
	RequestIDKey contextKey = "request_id"
	// SessionIDKey carries a roomgraph session id through a context
	SessionIDKey contextKey = "session_id"
)

// ZapAdapter is the Logger backed by zap's console encoder
type ZapAdapter struct {
	logger *zap.Logger
}

func NewZapLogger(config LogConfig) (Logger, error) {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		FunctionKey:    zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})

	var out zapcore.WriteSyncer = os.Stdout
	if config.Output != nil {
		out = zapcore.AddSync(config.Output)
	}

	core := zapcore.NewCore(encoder, out, zapcore.Level(config.Level))
	return &ZapAdapter{logger: zap.New(core)}, nil
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, zapFields(fields)...)
}

func (z *ZapAdapter) Info(msg string, fields ...Field) {
	z.logger.Info(msg, zapFields(fields)...)
}

func (z *ZapAdapter) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, zapFields(fields)...)
}

func (z *ZapAdapter) Error(msg string, err error, fields ...Field) {
	zf := zapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.logger.Error(msg, zf...)
}

func (z *ZapAdapter) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	return &ZapAdapter{logger: z.logger.With(zapFields(fields)...)}
}

// WithContext adds the request and session ids carried by ctx
func (z *ZapAdapter) WithContext(ctx context.Context) Logger {
	var fields []Field
	for _, key := range []contextKey{RequestIDKey, SessionIDKey} {
		if id, ok := ctx.Value(key).(string); ok {
			fields = append(fields, String(string(key), id))
		}
	}
	return z.WithFields(fields...)
}

func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out[i] = zap.String(f.Key, v)
		case []string:
			out[i] = zap.Strings(f.Key, v)
		case int:
			out[i] = zap.Int(f.Key, v)
		case int64:
			out[i] = zap.Int64(f.Key, v)
		case uint64:
			out[i] = zap.Uint64(f.Key, v)
		case bool:
			out[i] = zap.Bool(f.Key, v)
		case time.Duration:
			out[i] = zap.Duration(f.Key, v)
		case error:
			out[i] = zap.NamedError(f.Key, v)
		default:
			out[i] = zap.Any(f.Key, v)
		}
	}
	return out
}
