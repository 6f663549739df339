//go:build !linux

package redo

import (
	"fmt"
	"os"
)

// syncFile durably flushes f using the portable (*os.File).Sync on
// platforms where golang.org/x/sys has no fdatasync equivalent wired up.
func syncFile(f *os.File) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("redo: sync: %w", err)
	}
	return nil
}
