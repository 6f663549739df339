// Package redo implements a content-addressed, append-only event
// store backed by one or more sequential archive files plus a current
// appender, a hash-keyed lookup table, rotation, and flip-based
// compaction swaps.
package redo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/lockfile"
)

// Lookup is the physical placement of one record: which archive and at
// what byte offset.
type Lookup struct {
	ArchiveIndex int
	Offset       int64
}

// Config configures one redo log instance.
type Config struct {
	// Path is the archive name prefix; archives are named "<Path>.<n>".
	Path string
	// Store backs the archives; defaults to FileArchiveStore{}.
	Store ArchiveStore
	// Temporary logs live only in memory and forbid Rotate/BeginFlip.
	Temporary bool
	// RequireFresh, when true, makes Open fail if archives already
	// exist at Path: starting a fresh log over existing archives is
	// refused.
	RequireFresh bool
	// ReadCacheSize bounds the read cache's entry count; 0 disables
	// the bound.
	ReadCacheSize int
	// ReadCacheTTL bounds how long a read-cache entry survives; 0
	// disables the bound.
	ReadCacheTTL time.Duration
	// MaxArchiveSize, when non-zero, triggers an automatic Rotate each
	// time a Write leaves the active appender's size at or above it.
	MaxArchiveSize int64
	// HeaderBytes seeds a brand-new log's archive-zero chain header.
	HeaderBytes []byte
	// RotateHeader regenerates the chain-header bytes written at the
	// head of each subsequent archive, e.g. carrying the timeline's
	// current cut-off forward.
	RotateHeader func() []byte

	// skipProcessLock is used internally by BeginFlip: a flip log is
	// owned exclusively by the compactor goroutine of the process that
	// already holds the parent log's lock.
	skipProcessLock bool
}

// archiveFile is one physical archive: a handle plus bookkeeping.
type archiveFile struct {
	index    int
	name     string
	handle   ArchiveHandle
	size     int64
	writable bool
}

// Log is one chain's redo log: an append-only sequence of archives plus
// the in-memory hash -> Lookup index.
type Log struct {
	mu    sync.Mutex
	cfg   Config
	store ArchiveStore

	archives []*archiveFile
	lookup   map[event.Hash]Lookup

	flushCache *recordCache
	readCache  *recordCache

	procLock *lockfile.Lock
}

// Open opens (or bootstraps) a redo log per cfg.
func Open(cfg Config) (*Log, error) {
	store := cfg.Store
	if store == nil {
		store = FileArchiveStore{}
	}

	l := &Log{
		cfg:        cfg,
		store:      store,
		lookup:     make(map[event.Hash]Lookup),
		flushCache: newRecordCache(0, 0),
		readCache:  newRecordCache(cfg.ReadCacheSize, cfg.ReadCacheTTL),
	}

	if !cfg.Temporary && !cfg.skipProcessLock {
		l.procLock = lockfile.New(cfg.Path)
		ok, err := l.procLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("redo: acquire process lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("redo: log at %s is already open by another process", cfg.Path)
		}
	}

	if err := l.recoverInterruptedSwap(); err != nil {
		return nil, err
	}
	if err := l.removeStrayFlipFiles(); err != nil {
		return nil, err
	}

	indices, err := l.existingIndices()
	if err != nil {
		return nil, err
	}

	if len(indices) > 0 && cfg.RequireFresh {
		return nil, fmt.Errorf("redo: refusing to start a fresh log over existing archives at %s", cfg.Path)
	}

	if len(indices) == 0 {
		if err := l.createArchive(0, cfg.HeaderBytes); err != nil {
			return nil, err
		}
	} else {
		if err := l.openExistingArchives(indices); err != nil {
			return nil, err
		}
	}

	if err := l.rebuildLookup(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Log) existingIndices() ([]int, error) {
	names, err := l.store.List(l.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("redo: list archives: %w", err)
	}
	var indices []int
	for _, n := range names {
		if idx, ok := parseArchiveIndex(l.cfg.Path, n); ok {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

func (l *Log) openExistingArchives(indices []int) error {
	for i, idx := range indices {
		name := archiveName(l.cfg.Path, idx)
		h, err := l.store.Open(name, false)
		if err != nil {
			return fmt.Errorf("redo: open archive %s: %w", name, err)
		}
		size, err := h.Size()
		if err != nil {
			return err
		}
		l.archives = append(l.archives, &archiveFile{
			index:    idx,
			name:     name,
			handle:   h,
			size:     size,
			writable: i == len(indices)-1,
		})
	}
	return nil
}

func (l *Log) createArchive(idx int, headerBytes []byte) error {
	name := archiveName(l.cfg.Path, idx)
	h, err := l.store.Open(name, true)
	if err != nil {
		return fmt.Errorf("redo: create archive %s: %w", name, err)
	}
	n, err := writeArchiveHeader(h, headerBytes)
	if err != nil {
		return err
	}
	l.archives = append(l.archives, &archiveFile{index: idx, name: name, handle: h, size: n, writable: true})
	return nil
}

func writeArchiveHeader(h ArchiveHandle, headerBytes []byte) (int64, error) {
	var buf bytes.Buffer
	buf.Write(archiveMagic[:])
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(headerBytes)))
	buf.Write(tmp[:n])
	buf.Write(headerBytes)
	wrote, err := h.Write(buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("redo: write archive header: %w", err)
	}
	return int64(wrote), nil
}

// appender returns the current writable archive.
func (l *Log) appender() *archiveFile {
	if len(l.archives) == 0 {
		return nil
	}
	return l.archives[len(l.archives)-1]
}

// rebuildLookup replays every archive's records to repopulate the
// in-memory hash -> Lookup table after a restart. A truncated tail
// record, the expected shape of a crash mid-write, ends that archive's
// scan without error; any other per-record parse failure aborts the
// rebuild with an error.
func (l *Log) rebuildLookup() error {
	for _, af := range l.archives {
		if err := l.scanArchive(af, func(h event.Hash, off int64) {
			l.lookup[h] = Lookup{ArchiveIndex: af.index, Offset: off}
		}); err != nil {
			return err
		}
	}
	return nil
}

// scanArchive walks one archive's records starting just after its
// header, invoking onRecord(hash, offset) for each well-formed record.
func (l *Log) scanArchive(af *archiveFile, onRecord func(event.Hash, int64)) error {
	sr := io.NewSectionReader(af.handle, 0, af.size)
	br := bufio.NewReader(sr)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("redo: read archive magic: %w", err)
	}
	hdrLen, err := binary.ReadUvarint(br)
	if err != nil {
		return fmt.Errorf("redo: read archive header length: %w", err)
	}
	if _, err := io.CopyN(io.Discard, br, int64(hdrLen)); err != nil {
		return fmt.Errorf("redo: skip archive header: %w", err)
	}

	offset := int64(len(magic)) + int64(uvarintLen(hdrLen)) + int64(hdrLen)
	for {
		rec, err := readRecord(br)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redo: scan archive %s at offset %d: %w", af.name, offset, err)
		}
		h := event.HashMetaBytes(rec.metaBytes)
		onRecord(h, offset)
		offset += recordByteLen(rec)
	}
}

func uvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

func recordByteLen(rec *decodedRecord) int64 {
	n := int64(3) // version + 2 format bytes
	n += int64(uvarintLen(uint64(len(rec.metaBytes))))
	n += int64(len(rec.metaBytes))
	n++ // has-data flag
	if rec.data != nil {
		n += int64(uvarintLen(uint64(len(rec.data))))
		n += int64(len(rec.data))
	}
	return n
}

// Write serializes meta/data and appends them to the active archive,
// updating the hash lookup and flush cache. Writing metadata whose
// content-hash is already known is a no-op that returns the existing
// Lookup, which is what makes re-committing identical staged state
// idempotent.
func (l *Log) Write(ctx context.Context, meta event.Metadata, data []byte, format event.Format) (event.Header, Lookup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, metaBytes, err := event.HashMeta(meta, format.Meta)
	if err != nil {
		return event.Header{}, Lookup{}, fmt.Errorf("redo: hash metadata: %w", err)
	}

	if existing, ok := l.lookup[hash]; ok {
		hdr, _ := l.headerFromCacheOrDisk(hash)
		return hdr, existing, nil
	}

	af := l.appender()
	if af == nil {
		return event.Header{}, Lookup{}, fmt.Errorf("redo: no active appender")
	}
	offset := af.size

	n, err := writeRecord(af.handle, metaBytes, data, format)
	if err != nil {
		return event.Header{}, Lookup{}, fmt.Errorf("redo: write failed for chain %s: %w", l.cfg.Path, err)
	}
	af.size += n

	lk := Lookup{ArchiveIndex: af.index, Offset: offset}
	l.lookup[hash] = lk

	hdr := event.Header{Hash: hash, Meta: meta, Format: format}
	if data != nil {
		dh := event.HashMetaBytes(data)
		hdr.DataHash = &dh
		hdr.DataSize = uint64(len(data))
	}
	l.flushCache.put(hash, &cacheEntry{header: hdr, data: data, lookup: lk, insertedAt: time.Now()})

	if l.cfg.MaxArchiveSize > 0 && af.size >= l.cfg.MaxArchiveSize {
		headerBytes := []byte(nil)
		if l.cfg.RotateHeader != nil {
			headerBytes = l.cfg.RotateHeader()
		}
		if err := l.rotateLocked(headerBytes); err != nil {
			return hdr, lk, fmt.Errorf("redo: auto-rotate after size threshold: %w", err)
		}
	}

	return hdr, lk, nil
}

func (l *Log) headerFromCacheOrDisk(h event.Hash) (event.Header, error) {
	if e, ok := l.flushCache.get(h); ok {
		return e.header, nil
	}
	if e, ok := l.readCache.get(h); ok {
		return e.header, nil
	}
	hdr, _, _, err := l.loadLocked(h)
	return hdr, err
}

// CopyEvent reads hash from src and writes it into l preserving the
// exact content hash; used by flip compaction to migrate kept events
// into the side log.
func (l *Log) CopyEvent(ctx context.Context, src *Log, hash event.Hash) (Lookup, error) {
	hdr, data, _, err := src.Load(ctx, hash)
	if err != nil {
		return Lookup{}, fmt.Errorf("redo: copy_event load: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.lookup[hash]; ok {
		return existing, nil
	}

	metaBytes, err := event.EncodeMeta(hdr.Meta, hdr.Format.Meta)
	if err != nil {
		return Lookup{}, fmt.Errorf("redo: copy_event re-encode metadata: %w", err)
	}
	if got := event.HashMetaBytes(metaBytes); got != hash {
		return Lookup{}, fmt.Errorf("redo: copy_event hash mismatch: want %s got %s", hash, got)
	}

	af := l.appender()
	if af == nil {
		return Lookup{}, fmt.Errorf("redo: no active appender")
	}
	offset := af.size
	n, err := writeRecord(af.handle, metaBytes, data, hdr.Format)
	if err != nil {
		return Lookup{}, fmt.Errorf("redo: copy_event write: %w", err)
	}
	af.size += n

	lk := Lookup{ArchiveIndex: af.index, Offset: offset}
	l.lookup[hash] = lk
	l.flushCache.put(hash, &cacheEntry{header: hdr, data: data, lookup: lk, insertedAt: time.Now()})
	return lk, nil
}

// Load returns the header, payload, and physical lookup for hash,
// checking the flush cache, then the read cache, then disk.
func (l *Log) Load(ctx context.Context, hash event.Hash) (event.Header, []byte, Lookup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(hash)
}

func (l *Log) loadLocked(hash event.Hash) (event.Header, []byte, Lookup, error) {
	if e, ok := l.flushCache.get(hash); ok {
		return e.header, e.data, e.lookup, nil
	}
	if e, ok := l.readCache.get(hash); ok {
		return e.header, e.data, e.lookup, nil
	}

	lk, ok := l.lookup[hash]
	if !ok {
		return event.Header{}, nil, Lookup{}, &event.NotFoundByHashError{Hash: hash}
	}

	af := l.archiveByIndex(lk.ArchiveIndex)
	if af == nil {
		return event.Header{}, nil, Lookup{}, fmt.Errorf("redo: archive index %d not open", lk.ArchiveIndex)
	}

	sr := io.NewSectionReader(af.handle, lk.Offset, af.size-lk.Offset)
	br := bufio.NewReader(sr)
	rec, err := readRecord(br)
	if err != nil {
		return event.Header{}, nil, Lookup{}, fmt.Errorf("redo: load %s at %s:%d: %w", hash, af.name, lk.Offset, err)
	}

	meta, err := event.DecodeMeta(rec.metaBytes, rec.format.Meta)
	if err != nil {
		return event.Header{}, nil, Lookup{}, fmt.Errorf("redo: decode metadata for %s: %w", hash, err)
	}
	if got := event.HashMetaBytes(rec.metaBytes); got != hash {
		return event.Header{}, nil, Lookup{}, fmt.Errorf("redo: hash mismatch loading %s: got %s", hash, got)
	}

	hdr := event.Header{Hash: hash, Meta: meta, Format: rec.format}
	if rec.data != nil {
		dh := event.HashMetaBytes(rec.data)
		hdr.DataHash = &dh
		hdr.DataSize = uint64(len(rec.data))
	}

	l.readCache.put(hash, &cacheEntry{header: hdr, data: rec.data, lookup: lk, insertedAt: time.Now()})
	return hdr, rec.data, lk, nil
}

func (l *Log) archiveByIndex(idx int) *archiveFile {
	for _, af := range l.archives {
		if af.index == idx {
			return af
		}
	}
	return nil
}

// Flush drains the write-through flush cache into the TTL-bounded read
// cache and durably syncs the active appender.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if af := l.appender(); af != nil {
		if err := af.handle.Sync(); err != nil {
			return fmt.Errorf("redo: flush sync: %w", err)
		}
	}
	for _, e := range l.flushCache.drain() {
		l.readCache.put(e.hash, e.entry)
	}
	return nil
}

// Rotate closes the current appender to new writes and opens a fresh
// archive seeded with headerBytes. Forbidden on temporary logs.
func (l *Log) Rotate(ctx context.Context, headerBytes []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked(headerBytes)
}

func (l *Log) rotateLocked(headerBytes []byte) error {
	if l.cfg.Temporary {
		return fmt.Errorf("redo: rotate is forbidden on a temporary log")
	}
	if af := l.appender(); af != nil {
		af.writable = false
	}
	nextIdx := 0
	if len(l.archives) > 0 {
		nextIdx = l.archives[len(l.archives)-1].index + 1
	}
	return l.createArchive(nextIdx, headerBytes)
}

// HistoryRecord is one event surfaced while replaying a log's full
// history, e.g. at chain-open time.
type HistoryRecord struct {
	Header event.Header
	Lookup Lookup
}

// History replays every well-formed record across every archive in
// archive/offset order, skipping (not failing on) individually
// corrupt records: per-record parse failures during history scan are
// logged and skipped rather than aborting the scan.
func (l *Log) History(ctx context.Context) ([]HistoryRecord, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []HistoryRecord
	var errs []error
	for _, af := range l.archives {
		sr := io.NewSectionReader(af.handle, 0, af.size)
		br := bufio.NewReader(sr)

		var magic [4]byte
		if _, err := io.ReadFull(br, magic[:]); err != nil {
			continue
		}
		hdrLen, err := binary.ReadUvarint(br)
		if err != nil {
			errs = append(errs, fmt.Errorf("redo: archive %s header length: %w", af.name, err))
			continue
		}
		if _, err := io.CopyN(io.Discard, br, int64(hdrLen)); err != nil {
			errs = append(errs, fmt.Errorf("redo: archive %s skip header: %w", af.name, err))
			continue
		}
		offset := int64(len(magic)) + int64(uvarintLen(hdrLen)) + int64(hdrLen)

		for {
			rec, err := readRecord(br)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("redo: archive %s offset %d: %w", af.name, offset, err))
				break
			}
			meta, derr := event.DecodeMeta(rec.metaBytes, rec.format.Meta)
			reclen := recordByteLen(rec)
			if derr != nil {
				errs = append(errs, fmt.Errorf("redo: archive %s offset %d: decode metadata: %w", af.name, offset, derr))
				offset += reclen
				continue
			}
			hash := event.HashMetaBytes(rec.metaBytes)
			hdr := event.Header{Hash: hash, Meta: meta, Format: rec.format}
			if rec.data != nil {
				dh := event.HashMetaBytes(rec.data)
				hdr.DataHash = &dh
				hdr.DataSize = uint64(len(rec.data))
			}
			out = append(out, HistoryRecord{Header: hdr, Lookup: Lookup{ArchiveIndex: af.index, Offset: offset}})
			offset += reclen
		}
	}
	return out, errs
}

// Close releases the process lock and underlying archive handles.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, af := range l.archives {
		if err := af.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.procLock != nil {
		if err := l.procLock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ArchiveCount returns the number of open archives, mostly for tests
// asserting on compaction outcomes.
func (l *Log) ArchiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.archives)
}

// EventCount returns the number of distinct content hashes currently
// indexed by this log.
func (l *Log) EventCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lookup)
}
