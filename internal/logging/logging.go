// Package logging builds the component loggers used across ascend.
//
// Every component takes a *log.Logger with a bracketed prefix. They all
// share one output: stderr, or a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go.
type Config struct {
	// File is the log file path. Empty means stderr.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
}

// Output returns the shared log writer for cfg. Closing it closes the log
// file; closing the stderr output is a no-op.
func Output(cfg Config) io.WriteCloser {
	if cfg.File == "" {
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// New returns a logger writing to w with the prefix "[component] ".
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
