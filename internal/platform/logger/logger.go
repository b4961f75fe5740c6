// Package logger is the structured logger shared by every layer. Field
// values pass through a redactor before they reach zap, so session tokens,
// user ids and message bodies never land in log output verbatim.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
	redact        *Redactor
}

// New builds a zap logger for the given LOG_MODE:
//
//	prod, production  JSON encoder at info
//	test              console encoder at warn
//	anything else     console encoder at debug
//
// LOG_LEVEL overrides the level. LOG_REDACTION_ENABLED and LOG_HASH_SALT
// configure field redaction.
func New(mode string) (*Logger, error) {
	cfg, level := zapConfigFor(mode)
	if override, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = override
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return FromZap(z, redactorFromEnv()), nil
}

// FromZap wraps an existing zap logger. A nil redactor disables redaction.
func FromZap(z *zap.Logger, r *Redactor) *Logger {
	return &Logger{SugaredLogger: z.Sugar(), redact: r}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop(), nil)
}

func zapConfigFor(mode string) (zap.Config, zapcore.Level) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		return zap.NewProductionConfig(), zapcore.InfoLevel
	case "test":
		return zap.NewDevelopmentConfig(), zapcore.WarnLevel
	default:
		return zap.NewDevelopmentConfig(), zapcore.DebugLevel
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zapcore.InfoLevel, false
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, l.redact.fields(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, l.redact.fields(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, l.redact.fields(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, l.redact.fields(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, l.redact.fields(keysAndValues)...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(l.redact.fields(keysAndValues)...),
		redact:        l.redact,
	}
}
