// Package logging builds the process logger: a console core plus an optional
// rotated JSON file core.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// File enables rotated JSON logs at this path when non-empty.
	File string
	// Production switches the console encoder to JSON.
	Production bool
	// Console overrides the console sink; nil means stderr.
	Console io.Writer
}

func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(defaultString(opts.Level, "info"))))
	if err != nil {
		return nil, fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}

	jsonConfig := zap.NewProductionEncoderConfig()
	jsonConfig.TimeKey = "timestamp"
	jsonConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonConfig.MessageKey = "message"
	jsonConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(jsonConfig)

	consoleEncoder := jsonEncoder
	if !opts.Production {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	var console io.Writer = os.Stderr
	if opts.Console != nil {
		console = opts.Console
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(console)), level),
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
