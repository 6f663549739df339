// Package pipe implements the event-pipe chain of responsibility from
// each link can observe, transform, and/or forward a
// transaction before it reaches the redo log.
package pipe

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/untoldecay/trustchain/internal/event"
)

// Scope modulates durability/replication confirmation on commit.
type Scope int

const (
	// ScopeNone is fire-and-forget.
	ScopeNone Scope = iota
	// ScopeLocal awaits local persistence.
	ScopeLocal
	// ScopeFull awaits replication confirmation from peers.
	ScopeFull
)

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeLocal:
		return "local"
	case ScopeFull:
		return "full"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ConversationSession is a per-peer-pair replay-prevention context.
type ConversationSession struct {
	ID string
}

// NewConversationSession mints a fresh conversation identity, the way
// an RPC layer stamps every request with a random RequestID.
func NewConversationSession() *ConversationSession {
	return &ConversationSession{ID: uuid.New().String()}
}

// Transaction is the unit fed through a Pipe: the ordered events
// produced by one DIO commit.
type Transaction struct {
	Scope        Scope
	Transmit     bool
	Events       []event.Event
	Conversation *ConversationSession
}

// Pipe is one link in the chain of responsibility.
type Pipe interface {
	Feed(ctx context.Context, tx Transaction) error
	TryLock(ctx context.Context, key event.PrimaryKey) (bool, error)
	Unlock(ctx context.Context, key event.PrimaryKey) error
	UnlockLocal(key event.PrimaryKey) error
	Conversation() *ConversationSession
}

// Null is a terminal no-op pipe.
type Null struct{}

func (Null) Feed(ctx context.Context, tx Transaction) error                { return nil }
func (Null) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) { return true, nil }
func (Null) Unlock(ctx context.Context, key event.PrimaryKey) error        { return nil }
func (Null) UnlockLocal(key event.PrimaryKey) error                       { return nil }
func (Null) Conversation() *ConversationSession                           { return nil }

// Sink is the terminal append target an Inbox forwards transactions
// onto: typically the chain's write-worker channel.
type Sink interface {
	Enqueue(ctx context.Context, tx Transaction) error
}

// Inbox forwards transactions onto the owning chain's bounded channel
// and tracks locally-held locks in a set.
type Inbox struct {
	sink Sink

	mu     sync.Mutex
	locked map[event.PrimaryKey]struct{}
}

// NewInbox returns an Inbox forwarding onto sink.
func NewInbox(sink Sink) *Inbox {
	return &Inbox{sink: sink, locked: make(map[event.PrimaryKey]struct{})}
}

func (p *Inbox) Feed(ctx context.Context, tx Transaction) error {
	return p.sink.Enqueue(ctx, tx)
}

func (p *Inbox) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.locked[key]; held {
		return false, nil
	}
	p.locked[key] = struct{}{}
	return true, nil
}

func (p *Inbox) Unlock(ctx context.Context, key event.PrimaryKey) error {
	return p.UnlockLocal(key)
}

func (p *Inbox) UnlockLocal(key event.PrimaryKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locked, key)
	return nil
}

func (p *Inbox) Conversation() *ConversationSession { return nil }

// Duel feeds both a primary and a secondary pipe — used, for instance,
// to double-tap a transaction to a replication channel and a local
// store.
type Duel struct {
	Primary   Pipe
	Secondary Pipe
}

func (d *Duel) Feed(ctx context.Context, tx Transaction) error {
	if err := d.Primary.Feed(ctx, tx); err != nil {
		return fmt.Errorf("pipe: duel primary: %w", err)
	}
	if err := d.Secondary.Feed(ctx, tx); err != nil {
		return fmt.Errorf("pipe: duel secondary: %w", err)
	}
	return nil
}

func (d *Duel) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) {
	return d.Primary.TryLock(ctx, key)
}

func (d *Duel) Unlock(ctx context.Context, key event.PrimaryKey) error {
	return d.Primary.Unlock(ctx, key)
}

func (d *Duel) UnlockLocal(key event.PrimaryKey) error {
	return d.Primary.UnlockLocal(key)
}

func (d *Duel) Conversation() *ConversationSession {
	if c := d.Primary.Conversation(); c != nil {
		return c
	}
	return d.Secondary.Conversation()
}

// Downcaster broadcasts a transaction to every subscriber of a chain
// key; implemented by the mesh server.
type Downcaster interface {
	Downcast(ctx context.Context, chainKey string, tx Transaction) error
}

// ServerDowncast feeds a transaction's events to the local log (via
// Next) and, when the transaction requests transmission, broadcasts it
// to every subscriber of the chain first.
type ServerDowncast struct {
	ChainKey   string
	Downcaster Downcaster
	Next       Pipe
}

func (s *ServerDowncast) Feed(ctx context.Context, tx Transaction) error {
	if tx.Transmit && s.Downcaster != nil {
		if err := s.Downcaster.Downcast(ctx, s.ChainKey, tx); err != nil {
			return fmt.Errorf("pipe: server downcast: %w", err)
		}
	}
	return s.Next.Feed(ctx, tx)
}

func (s *ServerDowncast) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) {
	return s.Next.TryLock(ctx, key)
}

func (s *ServerDowncast) Unlock(ctx context.Context, key event.PrimaryKey) error {
	return s.Next.Unlock(ctx, key)
}

func (s *ServerDowncast) UnlockLocal(key event.PrimaryKey) error {
	return s.Next.UnlockLocal(key)
}

func (s *ServerDowncast) Conversation() *ConversationSession {
	return s.Next.Conversation()
}
