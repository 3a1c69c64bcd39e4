package util

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions configures the process logger.
type LogOptions struct {
	// Level is one of debug, info, warn, error; empty means info.
	Level string
	// Path, when set, appends JSON lines to a file next to stdout.
	Path string
	// Fields are stamped on every entry.
	Fields map[string]string
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return enc
}

// NewLogger builds a JSON logger on stdout, teed to opts.Path if given.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	enc := zapcore.NewJSONEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(file), level))
	}

	fields := make([]zap.Field, 0, len(opts.Fields))
	for k, v := range opts.Fields {
		fields = append(fields, zap.String(k, v))
	}
	return zap.New(zapcore.NewTee(cores...)).With(fields...), nil
}
