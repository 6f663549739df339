package logging

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func TestNewWithoutPathReturnsNilWriter(t *testing.T) {
	logger, w := New(Config{Level: slog.LevelInfo})
	if logger == nil {
		t.Fatal("New() returned a nil logger")
	}
	if w != nil {
		t.Errorf("New() with no Path returned a non-nil Writer: %+v", w)
	}
}

func TestNewWithPathConfiguresRotationDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustchaind.log")
	logger, w := New(Config{Path: path, Level: slog.LevelInfo})
	if logger == nil {
		t.Fatal("New() returned a nil logger")
	}
	if w == nil {
		t.Fatal("New() with a Path returned a nil Writer")
	}
	if w.Filename != path {
		t.Errorf("Writer.Filename = %q, want %q", w.Filename, path)
	}
	if w.MaxSize != 100 {
		t.Errorf("Writer.MaxSize = %d, want default 100", w.MaxSize)
	}
	if w.MaxBackups != 5 {
		t.Errorf("Writer.MaxBackups = %d, want default 5", w.MaxBackups)
	}
	if w.MaxAge != 28 {
		t.Errorf("Writer.MaxAge = %d, want default 28", w.MaxAge)
	}
	if !w.Compress {
		t.Error("Writer.Compress = false, want true")
	}
}

func TestNewHonorsExplicitRotationOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustchaind.log")
	_, w := New(Config{Path: path, MaxSizeMB: 10, MaxBackups: 2, MaxAgeDays: 7})
	if w.MaxSize != 10 {
		t.Errorf("Writer.MaxSize = %d, want 10", w.MaxSize)
	}
	if w.MaxBackups != 2 {
		t.Errorf("Writer.MaxBackups = %d, want 2", w.MaxBackups)
	}
	if w.MaxAge != 7 {
		t.Errorf("Writer.MaxAge = %d, want 7", w.MaxAge)
	}
}

func TestNewEmitsJSONWhenConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustchaind.log")
	logger, w := New(Config{Path: path, JSON: true})
	if logger == nil {
		t.Fatal("New() returned a nil logger")
	}
	logger.Info("hello")
	if err := w.Close(); err != nil {
		t.Fatalf("Writer.Close: %v", err)
	}
}
