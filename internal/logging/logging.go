// Package logging sets up the daemon's own structured log sink,
// kept deliberately separate from the redo log's append-only event
// storage: this is operational text, not chain data.
package logging

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where the daemon's log output goes and how it
// rotates, including an optional log path and the daemon's general
// verbosity knob.
type Config struct {
	// Path is the log file to write to. Empty means stderr only.
	Path string
	// MaxSizeMB is the size at which a log file rotates.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are retained.
	MaxBackups int
	// MaxAgeDays bounds how long a rotated file is kept.
	MaxAgeDays int
	// Level sets the minimum emitted log level.
	Level slog.Level
	// JSON selects structured JSON output over slog's text handler.
	JSON bool
}

// Writer is the rotating sink backing a Config's log file, distinct
// from redo.Rotate's archive rotation.
type Writer struct {
	*lumberjack.Logger
}

// New builds a *slog.Logger per cfg, rotating to disk via lumberjack
// when Path is set, alongside stderr.
func New(cfg Config) (*slog.Logger, *Writer) {
	var w *Writer
	var out *os.File = os.Stderr

	opts := &slog.HandlerOptions{Level: cfg.Level}

	if cfg.Path == "" {
		return newHandler(out, cfg.JSON, opts), nil
	}

	w = &Writer{&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		Compress:   true,
	}}

	mw := teeWriter{stderr: out, file: w}
	return newHandler(mw, cfg.JSON, opts), w
}

func newHandler(w interface {
	Write([]byte) (int, error)
}, asJSON bool, opts *slog.HandlerOptions) *slog.Logger {
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type teeWriter struct {
	stderr *os.File
	file   *Writer
}

func (t teeWriter) Write(p []byte) (int, error) {
	_, _ = t.stderr.Write(p)
	return t.file.Write(p)
}
