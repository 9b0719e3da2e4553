// Package logutils builds the process-wide root logger.
package logutils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// New builds the root zerolog logger. With an empty path the logger writes
// JSON to stdout; otherwise it appends to path, creating parent directories
// as needed. Appending keeps earlier runs' entries, which matters when a
// paused task is resumed later.
//
// level is one of: debug, info, warn, error, fatal. The returned func
// closes the log file and is safe to call when logging to stdout.
func New(level, path string) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, closer, fmt.Errorf("parse log level: %w", err)
	}

	var writer *os.File = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create log dir: %w", err)
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("open log file: %w", err)
		}
		closer = func() { _ = f.Close() }
		writer = f
	}

	l := zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
	return l, closer, nil
}
