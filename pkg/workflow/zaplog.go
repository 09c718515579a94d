package workflow

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapLogger routes Temporal SDK logging through zap.
type ZapLogger struct {
	l *zap.Logger
}

// NewZapLogger wraps l for the Temporal SDK.
func NewZapLogger(l *zap.Logger) log.Logger {
	return &ZapLogger{l: l}
}

func (z *ZapLogger) Debug(msg string, keyvals ...any) { z.l.Debug(msg, fields(keyvals)...) }
func (z *ZapLogger) Info(msg string, keyvals ...any)  { z.l.Info(msg, fields(keyvals)...) }
func (z *ZapLogger) Warn(msg string, keyvals ...any)  { z.l.Warn(msg, fields(keyvals)...) }
func (z *ZapLogger) Error(msg string, keyvals ...any) { z.l.Error(msg, fields(keyvals)...) }

// With returns a child logger carrying keyvals.
func (z *ZapLogger) With(keyvals ...any) log.Logger {
	return &ZapLogger{l: z.l.With(fields(keyvals)...)}
}

func fields(keyvals []any) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		switch v := keyvals[i+1].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		case nil:
			out = append(out, zap.Skip())
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}
