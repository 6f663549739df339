// Package timeline implements the in-memory chain-of-trust index:
// primary/parent/secondary lookups over the events fed from the redo
// log, plus the tombstone set and the timestamp multimap compaction
// scans walk.
package timeline

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/untoldecay/trustchain/internal/event"
)

// Timeline is the chain's in-memory secondary index.
type Timeline struct {
	mu sync.RWMutex

	primary   map[event.PrimaryKey]event.Leaf
	parent    map[event.PrimaryKey]event.ParentPointer
	secondary map[event.CollectionRef][]event.PrimaryKey
	tombstone map[event.PrimaryKey]struct{}

	// byTimestamp preserves event-order (timestamp, then insertion
	// order for ties) so compaction can walk it ascending without a
	// separate sort pass.
	byTimestamp *orderedmap.OrderedMap[int64, []event.Hash]
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{
		primary:     make(map[event.PrimaryKey]event.Leaf),
		parent:      make(map[event.PrimaryKey]event.ParentPointer),
		secondary:   make(map[event.CollectionRef][]event.PrimaryKey),
		tombstone:   make(map[event.PrimaryKey]struct{}),
		byTimestamp: orderedmap.New[int64, []event.Hash](),
	}
}

// Kind classifies an event as it is fed into the timeline.
type Kind int

const (
	KindRoot Kind = iota
	KindUpdate
	KindCollectionChild
	KindTombstone
)

// AddHistory classifies hdr and folds it into every index. Events must
// be fed in the chain's single total order.
func (t *Timeline) AddHistory(hdr event.Header) Kind {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, _ := hdr.Meta.Timestamp()

	hashes, _ := t.byTimestamp.Get(ts)
	t.byTimestamp.Set(ts, append(hashes, hdr.Hash))

	key, hasKey := hdr.Meta.DataKey()
	if parent, ok := hdr.Meta.Parent(); ok {
		t.parent[key] = parent
	}

	kind := KindUpdate
	if hdr.Meta.IsRoot() {
		kind = KindRoot
	}

	if tkey, isTombstone := hdr.Meta.TombstoneKey(); isTombstone {
		t.tombstone[tkey] = struct{}{}
		delete(t.primary, tkey)
		return KindTombstone
	}

	if !hasKey {
		return kind
	}

	now := ts
	leaf, existed := t.primary[key]
	created := now
	if existed {
		created = leaf.CreatedMS
	}
	t.primary[key] = event.Leaf{Hash: hdr.Hash, CreatedMS: created, UpdatedMS: now}
	delete(t.tombstone, key)

	for _, ref := range hdr.Meta.Collections() {
		kind = KindCollectionChild
		members := t.secondary[ref]
		if !containsKey(members, key) {
			t.secondary[ref] = append(members, key)
		}
	}

	return kind
}

func containsKey(keys []event.PrimaryKey, k event.PrimaryKey) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func removeKey(keys []event.PrimaryKey, k event.PrimaryKey) []event.PrimaryKey {
	out := keys[:0]
	for _, x := range keys {
		if x != k {
			out = append(out, x)
		}
	}
	return out
}

// LookupPrimary returns the latest leaf for key, if any.
func (t *Timeline) LookupPrimary(key event.PrimaryKey) (event.Leaf, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	leaf, ok := t.primary[key]
	return leaf, ok
}

// LookupParent returns key's parent pointer, if any.
func (t *Timeline) LookupParent(key event.PrimaryKey) (event.ParentPointer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.parent[key]
	return p, ok
}

// LookupSecondary returns the leaves of every primary key currently
// belonging to ref, in insertion order.
func (t *Timeline) LookupSecondary(ref event.CollectionRef) []event.Leaf {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.secondary[ref]
	out := make([]event.Leaf, 0, len(keys))
	for _, k := range keys {
		if leaf, ok := t.primary[k]; ok {
			out = append(out, leaf)
		}
	}
	return out
}

// LookupSecondaryRaw returns the raw primary keys belonging to ref, in
// insertion order, including any whose leaf has since been tombstoned
// (callers that need the raw membership list use this instead of
// LookupSecondary).
func (t *Timeline) LookupSecondaryRaw(ref event.CollectionRef) []event.PrimaryKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.secondary[ref]
	out := make([]event.PrimaryKey, len(keys))
	copy(out, keys)
	return out
}

// IsTombstoned reports whether key has been deleted.
func (t *Timeline) IsTombstoned(key event.PrimaryKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tombstone[key]
	return ok
}

// InvalidateCaches clears every index; called by the chain immediately
// before a destructive operation such as rebuilding from a flip log.
func (t *Timeline) InvalidateCaches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.primary = make(map[event.PrimaryKey]event.Leaf)
	t.parent = make(map[event.PrimaryKey]event.ParentPointer)
	t.secondary = make(map[event.CollectionRef][]event.PrimaryKey)
	t.tombstone = make(map[event.PrimaryKey]struct{})
	t.byTimestamp = orderedmap.New[int64, []event.Hash]()
}

// Ascending calls fn for every (timestamp, hash) pair in ascending
// timestamp order, stopping early if fn returns false. This is what
// the compaction engine walks.
func (t *Timeline) Ascending(fn func(ts int64, hash event.Hash) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for pair := t.byTimestamp.Oldest(); pair != nil; pair = pair.Next() {
		for _, h := range pair.Value {
			if !fn(pair.Key, h) {
				return
			}
		}
	}
}

// Len returns the number of primary keys with a live (non-tombstoned)
// leaf.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.primary)
}
