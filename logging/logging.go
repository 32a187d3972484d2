// Package logging provides the leveled logger threaded through every
// packet-path method in this module, in the shape of a traditional
// s.logger.Log(level, fmt, args...) call site but backed by zap.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a LevelTrace..LevelError verbosity scale.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is the leveled, structured logger every component holds.
// Unlike a positional-verb Log(level, fmt, args...), callers here pass
// structured fields so log lines stay greppable under load.
type Logger interface {
	Log(level Level, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

type zapLogger struct {
	z *zap.SugaredLogger
	l *zap.Logger
}

// New wraps a *zap.Logger as a Logger. Pass zap.NewNop() in tests that
// don't care about log output.
func New(z *zap.Logger) Logger {
	return &zapLogger{z: z.Sugar(), l: z}
}

// NewProduction builds a production zap logger at the given minimum level.
func NewProduction(min Level) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(min))
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

func (l *zapLogger) Log(level Level, msg string, fields ...zap.Field) {
	switch level {
	case LevelTrace, LevelDebug:
		l.l.Debug(msg, fields...)
	case LevelInfo:
		l.l.Info(msg, fields...)
	case LevelWarn:
		l.l.Warn(msg, fields...)
	case LevelError:
		l.l.Error(msg, fields...)
	default:
		l.l.Info(msg, fields...)
	}
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z, l: l.l.With(fields...)}
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger {
	return New(zap.NewNop())
}
