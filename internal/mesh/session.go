package mesh

import (
	"sync"

	"github.com/untoldecay/trustchain/internal/event"
)

// ConnSession is the per-connection context: a set of locks the
// connection currently holds, released in full on disconnect.
type ConnSession struct {
	mu    sync.Mutex
	locks map[event.PrimaryKey]struct{}
}

// NewConnSession returns an empty session.
func NewConnSession() *ConnSession {
	return &ConnSession{locks: make(map[event.PrimaryKey]struct{})}
}

// Track records that this connection holds the lock on key.
func (s *ConnSession) Track(key event.PrimaryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[key] = struct{}{}
}

// Release forgets that this connection holds the lock on key.
func (s *ConnSession) Release(key event.PrimaryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
}

// Held returns every key this connection currently has tracked as
// locked, for disconnect-time cleanup.
func (s *ConnSession) Held() []event.PrimaryKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.PrimaryKey, 0, len(s.locks))
	for k := range s.locks {
		out = append(out, k)
	}
	return out
}
