package timeline

import (
	"testing"

	"github.com/untoldecay/trustchain/internal/event"
)

func header(hash byte, ts int64, key event.PrimaryKey, parent *event.PrimaryKey) event.Header {
	var m event.Metadata
	if parent != nil {
		m.AddParent(event.ParentPointer{ParentID: *parent})
	}
	if key != 0 {
		m.AddDataKey(key)
	}
	m.AddTimestamp(ts)
	var h event.Hash
	h[0] = hash
	return event.Header{Hash: h, Meta: m}
}

func TestAddHistoryClassifiesRootAndUpdate(t *testing.T) {
	tl := New()
	key := event.PrimaryKey(1)

	if kind := tl.AddHistory(header(1, 100, key, nil)); kind != KindRoot {
		t.Fatalf("first write classified as %v, want KindRoot", kind)
	}

	parent := event.PrimaryKey(99)
	if kind := tl.AddHistory(header(2, 200, key, &parent)); kind != KindUpdate {
		t.Fatalf("second write classified as %v, want KindUpdate", kind)
	}

	leaf, ok := tl.LookupPrimary(key)
	if !ok {
		t.Fatal("LookupPrimary after two writes: not found")
	}
	if leaf.CreatedMS != 100 || leaf.UpdatedMS != 200 {
		t.Errorf("leaf = %+v, want CreatedMS=100 UpdatedMS=200", leaf)
	}
	if leaf.Hash[0] != 2 {
		t.Errorf("leaf.Hash = %v, want the second write's hash", leaf.Hash)
	}
}

func TestAddHistoryTombstoneRemovesFromPrimaryAndSecondary(t *testing.T) {
	tl := New()
	key := event.PrimaryKey(5)
	ref := event.CollectionRef{ParentID: event.PrimaryKey(9), CollectionID: 1}

	var m event.Metadata
	m.AddParent(event.ParentPointer{ParentID: event.PrimaryKey(9), Collection: ref})
	m.AddDataKey(key)
	m.AddTimestamp(100)
	var h event.Hash
	h[0] = 1
	if kind := tl.AddHistory(event.Header{Hash: h, Meta: m}); kind != KindCollectionChild {
		t.Fatalf("collection write classified as %v, want KindCollectionChild", kind)
	}

	if got := tl.LookupSecondary(ref); len(got) != 1 {
		t.Fatalf("LookupSecondary before tombstone = %v, want 1 entry", got)
	}

	var tm event.Metadata
	tm.AddTombstone(key)
	tm.AddTimestamp(200)
	var th event.Hash
	th[0] = 2
	if kind := tl.AddHistory(event.Header{Hash: th, Meta: tm}); kind != KindTombstone {
		t.Fatalf("tombstone write classified as %v, want KindTombstone", kind)
	}

	if !tl.IsTombstoned(key) {
		t.Error("IsTombstoned(key) = false after tombstone write")
	}
	if _, ok := tl.LookupPrimary(key); ok {
		t.Error("LookupPrimary(key) still found after tombstone")
	}
	if got := tl.LookupSecondary(ref); len(got) != 0 {
		t.Errorf("LookupSecondary after tombstone = %v, want empty", got)
	}
	if got := tl.LookupSecondaryRaw(ref); len(got) != 1 {
		t.Errorf("LookupSecondaryRaw after tombstone = %v, want the key to remain in raw membership", got)
	}
}

func TestAscendingWalksInFeedOrderAndStopsEarly(t *testing.T) {
	tl := New()
	for i, ts := range []int64{10, 20, 30} {
		tl.AddHistory(header(byte(i+1), ts, event.PrimaryKey(i+1), nil))
	}

	var seen []int64
	tl.Ascending(func(ts int64, hash event.Hash) bool {
		seen = append(seen, ts)
		return ts < 20
	})

	want := []int64{10, 20}
	if len(seen) != len(want) {
		t.Fatalf("Ascending visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestInvalidateCachesClearsEveryIndex(t *testing.T) {
	tl := New()
	tl.AddHistory(header(1, 10, event.PrimaryKey(1), nil))
	if tl.Len() != 1 {
		t.Fatalf("Len() before invalidate = %d, want 1", tl.Len())
	}

	tl.InvalidateCaches()

	if tl.Len() != 0 {
		t.Errorf("Len() after invalidate = %d, want 0", tl.Len())
	}
	if _, ok := tl.LookupPrimary(event.PrimaryKey(1)); ok {
		t.Error("LookupPrimary found a key after InvalidateCaches")
	}
	count := 0
	tl.Ascending(func(int64, event.Hash) bool { count++; return true })
	if count != 0 {
		t.Errorf("Ascending visited %d entries after InvalidateCaches, want 0", count)
	}
}
