package redo

import (
	"context"
	"testing"

	"github.com/untoldecay/trustchain/internal/event"
)

func tempLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(Config{
		Path:      "chain",
		Store:     NewMemArchiveStore(),
		Temporary: true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func widgetMeta(key event.PrimaryKey, ts int64) event.Metadata {
	var m event.Metadata
	m.AddDataKey(key)
	m.AddTimestamp(ts)
	m.AddTypeName("widget")
	return m
}

func TestOpenBootstrapsFreshArchive(t *testing.T) {
	l := tempLog(t)
	if got := l.ArchiveCount(); got != 1 {
		t.Fatalf("ArchiveCount() = %d, want 1", got)
	}
	if got := l.EventCount(); got != 0 {
		t.Fatalf("EventCount() = %d, want 0", got)
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	l := tempLog(t)
	ctx := context.Background()
	meta := widgetMeta(event.PrimaryKey(1), 1000)
	data := []byte("payload")

	hdr, lk, err := l.Write(ctx, meta, data, event.Format{Meta: event.FormatJSON, Data: event.FormatJSON})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lk.ArchiveIndex != 0 {
		t.Errorf("Lookup.ArchiveIndex = %d, want 0", lk.ArchiveIndex)
	}

	gotHdr, gotData, gotLk, err := l.Load(ctx, hdr.Hash)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(gotData) != string(data) {
		t.Errorf("Load data = %q, want %q", gotData, data)
	}
	if gotLk != lk {
		t.Errorf("Load Lookup = %+v, want %+v", gotLk, lk)
	}
	if ts, ok := gotHdr.Meta.Timestamp(); !ok || ts != 1000 {
		t.Errorf("loaded Timestamp() = (%d, %v), want (1000, true)", ts, ok)
	}
	if l.EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1", l.EventCount())
	}
}

func TestWriteIsIdempotentOnDuplicateHash(t *testing.T) {
	l := tempLog(t)
	ctx := context.Background()
	meta := widgetMeta(event.PrimaryKey(2), 2000)
	format := event.Format{Meta: event.FormatJSON, Data: event.FormatJSON}

	hdr1, lk1, err := l.Write(ctx, meta, []byte("a"), format)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	hdr2, lk2, err := l.Write(ctx, meta, []byte("a"), format)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}

	if hdr1.Hash != hdr2.Hash {
		t.Errorf("duplicate writes produced different hashes: %s vs %s", hdr1.Hash, hdr2.Hash)
	}
	if lk1 != lk2 {
		t.Errorf("duplicate writes produced different lookups: %+v vs %+v", lk1, lk2)
	}
	if got := l.EventCount(); got != 1 {
		t.Errorf("EventCount() after duplicate write = %d, want 1", got)
	}
}

func TestLoadMissingHashReturnsNotFound(t *testing.T) {
	l := tempLog(t)
	var h event.Hash
	h[0] = 0xff
	if _, _, _, err := l.Load(context.Background(), h); err == nil {
		t.Fatal("Load on an unwritten hash returned nil error")
	}
}

func TestRotateForbiddenOnTemporary(t *testing.T) {
	l := tempLog(t)
	if err := l.Rotate(context.Background(), nil); err == nil {
		t.Fatal("Rotate on a temporary log returned nil error, want an error")
	}
}

func TestCopyEventPreservesHash(t *testing.T) {
	src := tempLog(t)
	dst := tempLog(t)
	ctx := context.Background()
	meta := widgetMeta(event.PrimaryKey(3), 3000)

	hdr, _, err := src.Write(ctx, meta, []byte("payload"), event.Format{Meta: event.FormatJSON, Data: event.FormatJSON})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := dst.CopyEvent(ctx, src, hdr.Hash); err != nil {
		t.Fatalf("CopyEvent: %v", err)
	}

	gotHdr, gotData, _, err := dst.Load(ctx, hdr.Hash)
	if err != nil {
		t.Fatalf("Load after CopyEvent: %v", err)
	}
	if gotHdr.Hash != hdr.Hash {
		t.Errorf("CopyEvent changed the hash: got %s, want %s", gotHdr.Hash, hdr.Hash)
	}
	if string(gotData) != "payload" {
		t.Errorf("CopyEvent data = %q, want %q", gotData, "payload")
	}

	// Copying the same event again must be a no-op that keeps a single
	// entry rather than appending a duplicate record.
	if _, err := dst.CopyEvent(ctx, src, hdr.Hash); err != nil {
		t.Fatalf("second CopyEvent: %v", err)
	}
	if got := dst.EventCount(); got != 1 {
		t.Errorf("EventCount() after repeated CopyEvent = %d, want 1", got)
	}
}

func TestHistoryReturnsEveryWrittenEvent(t *testing.T) {
	l := tempLog(t)
	ctx := context.Background()
	format := event.Format{Meta: event.FormatJSON, Data: event.FormatJSON}

	for i := int64(1); i <= 3; i++ {
		if _, _, err := l.Write(ctx, widgetMeta(event.PrimaryKey(i), i*100), []byte("v"), format); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	records, errs := l.History(ctx)
	if len(errs) != 0 {
		t.Fatalf("History() errs = %v, want none", errs)
	}
	if len(records) != 3 {
		t.Fatalf("History() returned %d records, want 3", len(records))
	}
}

func TestHistoryToleratesCorruptTailRecord(t *testing.T) {
	l := tempLog(t)
	ctx := context.Background()
	format := event.Format{Meta: event.FormatJSON, Data: event.FormatJSON}

	if _, _, err := l.Write(ctx, widgetMeta(event.PrimaryKey(1), 100), []byte("v"), format); err != nil {
		t.Fatalf("Write: %v", err)
	}

	store, ok := l.store.(*MemArchiveStore)
	if !ok {
		t.Fatal("expected a *MemArchiveStore for this test")
	}
	name := archiveName(l.cfg.Path, 0)
	store.mu.Lock()
	store.files[name].data = append(store.files[name].data, 0xff, 0xff, 0xff)
	store.mu.Unlock()
	l.archives[0].size += 3

	records, errs := l.History(ctx)
	if len(records) != 1 {
		t.Fatalf("History() returned %d well-formed records, want 1", len(records))
	}
	if len(errs) == 0 {
		t.Fatal("History() reported no errors for a corrupted trailing record")
	}
}

func TestFlushSyncsAndDrainsCache(t *testing.T) {
	l := tempLog(t)
	ctx := context.Background()
	if _, _, err := l.Write(ctx, widgetMeta(event.PrimaryKey(1), 100), []byte("v"), event.Format{Meta: event.FormatJSON, Data: event.FormatJSON}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := l.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
