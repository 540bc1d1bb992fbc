package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewRotatingWriter returns a size-rotated log writer for a long-lived
// daemon, so an always-on shop tablet never fills its disk with logs.
// Rotated files are compressed; close the writer when the daemon exits.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}, nil
}
