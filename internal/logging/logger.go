// Package logging builds the zap logger shared by every gateway component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger at the given level ("debug", "info", "warn",
// "error"). When path is empty the logger writes to stdout; otherwise it
// appends to path, creating parent directories as needed.
//
// The returned cleanup func syncs the logger and closes the file.
func New(level, path string) (*zap.Logger, func(), error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	sink := zapcore.AddSync(os.Stdout)
	closeSink := func() {}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.AddSync(f)
		closeSink = func() { _ = f.Close() }
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(sink), zapLevel)
	logger := zap.New(core, zap.AddCaller())

	cleanup := func() {
		// Sync on stdout returns EINVAL on some platforms; nothing to do about it.
		_ = logger.Sync()
		closeSink()
	}
	return logger, cleanup, nil
}
