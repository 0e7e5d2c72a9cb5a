package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions controls the rotated log file written next to the console output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// NewRotatingWriter returns a size-rotated log file writer.
// Zero MaxSizeMB / MaxBackups fall back to 10 MB and 3 backups.
func NewRotatingWriter(opts FileOptions) (*lumberjack.Logger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		LocalTime:  true,
	}, nil
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

// Setup configures the global logger from user settings. When a file path is
// given, records go to stderr and the rotated file; the returned closer must be
// closed on exit. The closer is never nil.
func Setup(format, level string, file FileOptions) (io.Closer, error) {
	if file.Path == "" {
		Init(format, level, os.Stderr)
		return io.NopCloser(nil), nil
	}

	rw, err := NewRotatingWriter(file)
	if err != nil {
		Init(format, level, os.Stderr)
		return io.NopCloser(nil), err
	}

	Init(format, level, TeeWriter(os.Stderr, rw))
	return rw, nil
}
