package dio

import (
	"sync"

	"github.com/untoldecay/trustchain/internal/event"
)

// stagedRow is a type-erased view of a staged Row[D]: payload already
// encoded to bytes so the commit path does not need to know D.
type stagedRow struct {
	Key         event.PrimaryKey
	TypeName    string
	Parent      *event.ParentPointer
	DataBytes   []byte
	Auth        event.Authorization
	Collections []event.CollectionRef
	Format      event.Format
	ExtraMeta   []event.Item
}

// loadedEntry is a cached read: the raw event plus its leaf, kept so a
// second Load of the same key within the scope does not hit the chain
// again.
type loadedEntry struct {
	Header   event.Header
	Data     []byte
	Leaf     event.Leaf
	DataHash uint64
}

// state is the staged mutation set of one Dio scope: dirty rows, a
// load cache, local locks, and the deleted set.
type state struct {
	mu sync.Mutex

	store               []*stagedRow
	cacheStorePrimary   map[event.PrimaryKey]*stagedRow
	cacheStoreSecondary map[event.CollectionRef][]event.PrimaryKey
	cacheLoad           map[event.PrimaryKey]*loadedEntry
	locked              map[event.PrimaryKey]struct{}
	deleted             map[event.PrimaryKey]struct{}
	pipeUnlock          map[event.PrimaryKey]struct{}
	autoCancel          bool
}

func newState() *state {
	return &state{
		cacheStorePrimary:   make(map[event.PrimaryKey]*stagedRow),
		cacheStoreSecondary: make(map[event.CollectionRef][]event.PrimaryKey),
		cacheLoad:           make(map[event.PrimaryKey]*loadedEntry),
		locked:              make(map[event.PrimaryKey]struct{}),
		deleted:             make(map[event.PrimaryKey]struct{}),
		pipeUnlock:          make(map[event.PrimaryKey]struct{}),
	}
}

func (s *state) dirty(row *stagedRow) {
	s.store = append(s.store, row)
	s.cacheStorePrimary[row.Key] = row
	if row.Parent != nil && row.Parent.HasCollection() {
		ref := row.Parent.Collection
		s.cacheStoreSecondary[ref] = append(s.cacheStoreSecondary[ref], row.Key)
	}
	delete(s.cacheLoad, row.Key)
}

func (s *state) lock(key event.PrimaryKey) bool {
	if _, held := s.locked[key]; held {
		return false
	}
	s.locked[key] = struct{}{}
	return true
}

func (s *state) unlock(key event.PrimaryKey) bool {
	if _, held := s.locked[key]; !held {
		return false
	}
	delete(s.locked, key)
	return true
}

func (s *state) isLocked(key event.PrimaryKey) bool {
	_, ok := s.locked[key]
	return ok
}

// addDeleted stages a tombstone for key, removing it from every local
// store index it appears in (primary, secondary, and load cache)
// rather than leaving stale secondary-index entries behind.
func (s *state) addDeleted(key event.PrimaryKey, parent *event.ParentPointer) {
	s.lock(key)
	delete(s.cacheStorePrimary, key)
	if parent != nil && parent.HasCollection() {
		ref := parent.Collection
		members := s.cacheStoreSecondary[ref]
		out := members[:0]
		for _, k := range members {
			if k != key {
				out = append(out, k)
			}
		}
		s.cacheStoreSecondary[ref] = out
	}
	delete(s.cacheLoad, key)
	s.deleted[key] = struct{}{}
}

func (s *state) hasUncommitted() bool {
	return len(s.store) > 0 || len(s.deleted) > 0
}
