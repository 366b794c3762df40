// Package logging implements runtime.Logger on zap for the standalone server.
package logging

import (
	"fmt"
	"strings"

	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to runtime.Logger so handlers log the same
// way inside and outside Nakama.
type ZapLogger struct {
	logger *zap.Logger
	fields map[string]interface{}
}

var _ runtime.Logger = (*ZapLogger)(nil)

// New builds a logger. format is "json" (production encoder) or "console";
// level is one of debug, info, warn, error.
func New(level, format string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return NewZapLogger(z), nil
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: z, fields: map[string]interface{}{}}
}

func (l *ZapLogger) Debug(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *ZapLogger) Info(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *ZapLogger) Warn(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *ZapLogger) Error(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *ZapLogger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		merged[k] = v
		zf = append(zf, zap.Any(k, v))
	}
	return &ZapLogger{logger: l.logger.With(zf...), fields: merged}
}

func (l *ZapLogger) Fields() map[string]interface{} {
	return l.fields
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Zap exposes the underlying logger.
func (l *ZapLogger) Zap() *zap.Logger {
	return l.logger
}

// Nop returns a logger that discards everything.
func Nop() *ZapLogger {
	return NewZapLogger(zap.NewNop())
}
