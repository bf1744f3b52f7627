// Package logging provides configurable zap logger creation for the RAQE
// engine, and a sensitive-data sanitizer (Sanitize, and Redacted for zap
// fields). Loggers built by NewLogger do not apply the sanitizer on their
// own; fields are redacted only where a caller passes them through Redacted.
package logging

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Style selects the logger's encoding.
type Style string

const (
	StyleTerminal Style = "terminal"
	StyleJSON     Style = "json"
	StyleLogfmt   Style = "logfmt"
	StyleNoop     Style = "noop"
)

// Config configures NewLogger. A zero Config yields a terminal-style,
// info-level logger.
type Config struct {
	Style Style
	Level string
}

// NewLogger creates a zap logger based on the Config settings.
func NewLogger(c Config) *zap.Logger {
	var err error
	var logger *zap.Logger

	style := c.Style
	if style == "" {
		style = StyleTerminal
	}
	logLevel := zapcore.InfoLevel
	if c.Level != "" {
		if lvl, parseErr := zapcore.ParseLevel(c.Level); parseErr == nil {
			logLevel = lvl
		}
	}

	switch style {
	case StyleNoop:
		logger = zap.NewNop()
	case StyleJSON:
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(logLevel)
		logger, err = cfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	case StyleTerminal:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(logLevel)
		logger, err = cfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	case StyleLogfmt:
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:       "ts",
			LevelKey:      "lvl",
			NameKey:       "logger",
			CallerKey:     "caller",
			MessageKey:    "msg",
			StacktraceKey: "stacktrace",
			LineEnding:    zapcore.DefaultLineEnding,
			EncodeTime:    zapcore.ISO8601TimeEncoder,
			EncodeLevel:   zapcore.LowercaseLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		}
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stderr),
			logLevel,
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	default:
		log.Fatalf("invalid logging style %q: must be one of: terminal, json, logfmt, noop", style)
	}

	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	return logger
}
