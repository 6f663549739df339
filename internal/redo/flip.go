package redo

import (
	"context"
	"fmt"

	"github.com/untoldecay/trustchain/internal/event"
)

// BeginFlip opens a side log at "<path>.flip" for the compactor to
// populate via CopyEvent. The flip log shares this log's process lock
// (same process, one compaction at a time) so it does not attempt to
// acquire its own.
func (l *Log) BeginFlip(headerBytes []byte) (*Log, error) {
	l.mu.Lock()
	temporary := l.cfg.Temporary
	l.mu.Unlock()
	if temporary {
		return nil, fmt.Errorf("redo: flip is forbidden on a temporary log")
	}

	flipCfg := Config{
		Path:          l.cfg.Path + ".flip",
		Store:         l.store,
		Temporary:     false,
		RequireFresh:  true,
		ReadCacheSize: l.cfg.ReadCacheSize,
		ReadCacheTTL:  l.cfg.ReadCacheTTL,
		HeaderBytes:   headerBytes,
		RotateHeader:  l.cfg.RotateHeader,

		skipProcessLock: true,
	}
	flip, err := Open(flipCfg)
	if err != nil {
		return nil, fmt.Errorf("redo: begin flip: %w", err)
	}
	return flip, nil
}

// MoveLogFile atomically swaps flip's archives into l's canonical
// archive names: rename originals to ".backup.<n>", move flip archives
// into place, then delete the backups. Each step is crash-restartable;
// Open rolls a partial swap back by restoring any surviving backups.
func (l *Log) MoveLogFile(ctx context.Context, flip *Log) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	flip.mu.Lock()
	defer flip.mu.Unlock()

	for _, af := range l.archives {
		if err := l.store.Rename(archiveName(l.cfg.Path, af.index), backupArchiveName(l.cfg.Path, af.index)); err != nil {
			return fmt.Errorf("redo: move_log_file backup step: %w", err)
		}
	}

	for _, af := range flip.archives {
		if err := af.handle.Sync(); err != nil {
			return fmt.Errorf("redo: move_log_file sync flip archive: %w", err)
		}
		if err := af.handle.Close(); err != nil {
			return fmt.Errorf("redo: move_log_file close flip archive: %w", err)
		}
		if err := l.store.Rename(flipArchiveName(l.cfg.Path, af.index), archiveName(l.cfg.Path, af.index)); err != nil {
			return fmt.Errorf("redo: move_log_file swap-in step: %w", err)
		}
	}

	for _, af := range l.archives {
		if err := af.handle.Close(); err != nil {
			return fmt.Errorf("redo: move_log_file close original archive: %w", err)
		}
		if err := l.store.Remove(backupArchiveName(l.cfg.Path, af.index)); err != nil {
			return fmt.Errorf("redo: move_log_file delete backup: %w", err)
		}
	}

	if flip.procLock != nil {
		_ = flip.procLock.Unlock()
	}

	l.archives = nil
	l.lookup = make(map[event.Hash]Lookup)
	l.flushCache = newRecordCache(0, 0)
	l.readCache = newRecordCache(l.cfg.ReadCacheSize, l.cfg.ReadCacheTTL)

	indices, err := l.existingIndices()
	if err != nil {
		return fmt.Errorf("redo: move_log_file reopen: %w", err)
	}
	if err := l.openExistingArchives(indices); err != nil {
		return fmt.Errorf("redo: move_log_file reopen: %w", err)
	}
	return l.rebuildLookup()
}

// recoverInterruptedSwap rolls back a crash between MoveLogFile's
// backup step and its delete-backups step: any surviving
// "<path>.backup.<n>" file means the previous swap did not finish, so
// we restore it to its canonical name, discarding whatever the
// partially-applied flip may have left in its place.
func (l *Log) recoverInterruptedSwap() error {
	names, err := l.store.List(l.cfg.Path + ".backup")
	if err != nil {
		return fmt.Errorf("redo: scan for interrupted swap: %w", err)
	}
	if len(names) == 0 {
		// store.List matches on "<prefix>." so also check the direct
		// backup naming scheme against the base path.
		names, err = l.listBackups()
		if err != nil {
			return err
		}
	}
	for _, name := range names {
		idx, ok := parseBackupIndex(l.cfg.Path, name)
		if !ok {
			continue
		}
		if err := l.store.Rename(name, archiveName(l.cfg.Path, idx)); err != nil {
			return fmt.Errorf("redo: restore backup archive %s: %w", name, err)
		}
	}
	return nil
}

func (l *Log) listBackups() ([]string, error) {
	all, err := l.store.List(l.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("redo: list archives for backup scan: %w", err)
	}
	var out []string
	for _, n := range all {
		if _, ok := parseBackupIndex(l.cfg.Path, n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// removeStrayFlipFiles deletes a leftover "<path>.flip.*" set from a
// crash before MoveLogFile was ever called: the flip file exists only
// while compaction is live, so on startup any stray flip file is
// deleted.
func (l *Log) removeStrayFlipFiles() error {
	names, err := l.store.List(l.cfg.Path + ".flip")
	if err != nil {
		return fmt.Errorf("redo: scan for stray flip files: %w", err)
	}
	for _, n := range names {
		if err := l.store.Remove(n); err != nil {
			return fmt.Errorf("redo: remove stray flip file %s: %w", n, err)
		}
	}
	return nil
}
