package mesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// Host locates (or creates) the local chain serving chainKey. A server
// that does not own chainKey returns ok=false so the caller replies
// NotThisRoot.
type Host interface {
	Open(ctx context.Context, chainKey string) (pipe.Pipe, HistorySource, bool, error)
}

// HistorySource streams a chain's events from a starting timestamp so
// Subscribe can bracket them in StartOfHistory/Events.../EndOfHistory.
type HistorySource interface {
	Since(fromMS int64) []WireEvent
	IntegrityLabel() string
	RootKeyHashes() []event.Hash
}

// Conn is one live wire connection: where outbound frames go, under
// which format, and the session tracking its held locks.
type Conn struct {
	W        io.Writer
	Format   WireFormat
	Session  *ConnSession
	chainKey string
}

func (c *Conn) send(msg Message) error {
	return WriteFrame(c.W, msg, c.Format)
}

type subscriberGroup struct {
	mu      sync.Mutex
	members map[*Conn]struct{}
}

// Server dispatches inbound messages and fans
// committed transactions out to every subscriber of the same chain
// key, the originating connection included.
type Server struct {
	host   Host
	logger *slog.Logger

	mu     sync.Mutex
	groups map[uint64]*subscriberGroup
}

// NewServer returns a Server routing through host.
func NewServer(host Host, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{host: host, logger: logger, groups: make(map[uint64]*subscriberGroup)}
}

func (s *Server) groupFor(chainKey string) *subscriberGroup {
	h := ChainKeyHash(chainKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[h]
	if !ok {
		g = &subscriberGroup{members: make(map[*Conn]struct{})}
		s.groups[h] = g
	}
	return g
}

// Handle dispatches one inbound message from conn.
func (s *Server) Handle(ctx context.Context, conn *Conn, msg Message) error {
	switch msg.Kind {
	case KindSubscribe:
		return s.handleSubscribe(ctx, conn, msg)
	case KindEvents:
		return s.handleEvents(ctx, conn, msg)
	case KindLock:
		return s.handleLock(ctx, conn, msg)
	case KindUnlock:
		return s.handleUnlock(ctx, conn, msg)
	default:
		return conn.send(Message{Kind: KindNoop})
	}
}

func (s *Server) handleSubscribe(ctx context.Context, conn *Conn, msg Message) error {
	if err := CheckVersionCompatible(msg.ClientVersion); err != nil {
		_ = conn.send(Message{Kind: KindFatalTerminate, Err: err.Error()})
		return err
	}

	p, src, ok, err := s.host.Open(ctx, msg.ChainKey)
	if err != nil {
		return fmt.Errorf("mesh: open chain %s: %w", msg.ChainKey, err)
	}
	if !ok {
		return conn.send(Message{Kind: KindNotThisRoot})
	}
	_ = p
	conn.chainKey = msg.ChainKey

	group := s.groupFor(msg.ChainKey)
	group.mu.Lock()
	group.members[conn] = struct{}{}
	group.mu.Unlock()

	history := src.Since(msg.FromTimeMS)
	if err := conn.send(Message{
		Kind:      KindStartOfHistory,
		Size:      uint64(len(history)),
		Integrity: src.IntegrityLabel(),
		RootKeys:  src.RootKeyHashes(),
	}); err != nil {
		return err
	}
	if len(history) > 0 {
		if err := conn.send(Message{Kind: KindEvents, Events: history}); err != nil {
			return err
		}
	}
	return conn.send(Message{Kind: KindEndOfHistory})
}

func (s *Server) handleEvents(ctx context.Context, conn *Conn, msg Message) error {
	p, _, ok, err := s.host.Open(ctx, chainKeyFromConn(conn))
	if err != nil || !ok {
		return conn.send(Message{Kind: KindNotThisRoot})
	}

	events := make([]event.Event, len(msg.Events))
	for i, we := range msg.Events {
		events[i] = event.Event{Header: event.Header{Meta: we.Meta, Format: we.Format}, Data: we.Data}
	}

	err = p.Feed(ctx, pipe.Transaction{Transmit: true, Events: events})
	if err != nil {
		reply := Message{Kind: KindCommitError, Err: err.Error()}
		if msg.Commit != nil {
			reply.ErrID = *msg.Commit
		}
		return conn.send(reply)
	}
	if msg.Commit != nil {
		return conn.send(Message{Kind: KindConfirmed, ConfirmID: *msg.Commit})
	}
	return nil
}

func (s *Server) handleLock(ctx context.Context, conn *Conn, msg Message) error {
	p, _, ok, err := s.host.Open(ctx, chainKeyFromConn(conn))
	if err != nil || !ok {
		return conn.send(Message{Kind: KindNotThisRoot})
	}
	locked, err := p.TryLock(ctx, msg.Key)
	if err != nil {
		return fmt.Errorf("mesh: try_lock %s: %w", msg.Key, err)
	}
	if locked {
		conn.Session.Track(msg.Key)
	}
	return conn.send(Message{Kind: KindLockResult, Key: msg.Key, IsLocked: locked})
}

func (s *Server) handleUnlock(ctx context.Context, conn *Conn, msg Message) error {
	p, _, ok, err := s.host.Open(ctx, chainKeyFromConn(conn))
	if err != nil || !ok {
		return conn.send(Message{Kind: KindNotThisRoot})
	}
	if err := p.Unlock(ctx, msg.Key); err != nil {
		return fmt.Errorf("mesh: unlock %s: %w", msg.Key, err)
	}
	conn.Session.Release(msg.Key)
	return conn.send(Message{Kind: KindLockResult, Key: msg.Key, IsLocked: false})
}

// Disconnect releases every lock conn's session still holds and drops
// it from chainKey's subscriber group: on disconnect every held lock
// is released.
func (s *Server) Disconnect(ctx context.Context, chainKey string, conn *Conn) {
	p, _, ok, err := s.host.Open(ctx, chainKey)
	if err == nil && ok {
		for _, key := range conn.Session.Held() {
			_ = p.Unlock(ctx, key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[ChainKeyHash(chainKey)]; ok {
		g.mu.Lock()
		delete(g.members, conn)
		g.mu.Unlock()
	}
}

// Downcast implements pipe.Downcaster: broadcast tx to every
// subscriber of chainKey.
func (s *Server) Downcast(ctx context.Context, chainKey string, tx pipe.Transaction) error {
	group := s.groupFor(chainKey)
	we := make([]WireEvent, len(tx.Events))
	for i, ev := range tx.Events {
		we[i] = WireEvent{Meta: ev.Header.Meta, Data: ev.Data, Format: ev.Header.Format}
	}

	group.mu.Lock()
	defer group.mu.Unlock()
	var firstErr error
	for conn := range group.members {
		if err := conn.send(Message{Kind: KindEvents, Events: we}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// chainKeyFromConn is a placeholder for real per-connection chain-key
// binding: a production transport tags each Conn with the chain key it
// subscribed to (connections may subscribe to more than one chain,
// handled by routing each frame against a per-connection table kept
// by the listener, not this package).
func chainKeyFromConn(conn *Conn) string {
	return conn.chainKey
}
