// Package log is reactor-go's thin logging facade: a zap.Logger backend
// with a level-named, field-oriented With(...) call shape, so the context,
// the services, and the context-thread log through an injected logger
// that defaults to a no-op when the library is embedded rather than run
// standalone. The timer set does not log.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps *zap.Logger with Named, With, and the four level methods.
// It adds no field helpers of its own: call sites build fields with zap's
// constructors (zap.String, zap.Error, ...).
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything, the default for
// reactor-go used as a library rather than run via cmd/reactorctl.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// New builds a production JSON logger at the given level.
func New(level zapcore.Level) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Named returns a child logger scoped to a component, e.g. "timer",
// "reactor", "tcp.service".
func (l *Logger) Named(component string) *Logger {
	return &Logger{z: l.z.Named(component)}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries; callers should defer it at
// process exit.
func (l *Logger) Sync() error { return l.z.Sync() }

// Raw exposes the underlying *zap.Logger for call sites that need a
// zap.Field-producing helper reactor-go doesn't wrap.
func (l *Logger) Raw() *zap.Logger { return l.z }
