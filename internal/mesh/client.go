package mesh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// Client is a mesh peer's outbound connection to a root server: it
// implements pipe.Pipe so a chain opened in client mode can feed
// commits straight onto the wire.
type Client struct {
	conn         net.Conn
	r            *bufio.Reader
	format       WireFormat
	chainKey     string
	conversation *pipe.ConversationSession
}

// Dial connects to addr and subscribes to chainKey from fromTimeMS.
func Dial(ctx context.Context, addr, chainKey string, fromTimeMS int64, format WireFormat) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mesh: dial %s: %w", addr, err)
	}
	c := &Client{
		conn:         conn,
		r:            bufio.NewReader(conn),
		format:       format,
		chainKey:     chainKey,
		conversation: pipe.NewConversationSession(),
	}
	if err := WriteFrame(conn, Message{Kind: KindSubscribe, ChainKey: chainKey, FromTimeMS: fromTimeMS, ClientVersion: ProtocolVersion}, format); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mesh: send subscribe: %w", err)
	}
	return c, nil
}

// Recv reads the next message off the wire, blocking until one
// arrives or the connection closes.
func (c *Client) Recv() (Message, error) {
	msg, err := ReadFrame(c.r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return msg, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return msg, fmt.Errorf("%w: %v", ErrReceive, err)
	}
	return msg, nil
}

// Feed implements pipe.Pipe: send the transaction's events as an
// Events frame and, for any scope other than ScopeNone, block for a
// matching Confirmed reply.
func (c *Client) Feed(ctx context.Context, tx pipe.Transaction) error {
	we := make([]WireEvent, len(tx.Events))
	for i, ev := range tx.Events {
		we[i] = WireEvent{Meta: ev.Header.Meta, Data: ev.Data, Format: ev.Header.Format}
	}
	var commitID *uint64
	if tx.Scope != pipe.ScopeNone {
		id := uint64(time.Now().UnixNano())
		commitID = &id
	}
	if err := WriteFrame(c.conn, Message{Kind: KindEvents, Commit: commitID, Events: we}, c.format); err != nil {
		return fmt.Errorf("mesh: feed: %w", err)
	}
	if commitID == nil {
		return nil
	}
	return c.awaitConfirm(ctx, *commitID)
}

func (c *Client) awaitConfirm(ctx context.Context, id uint64) error {
	for {
		msg, err := c.Recv()
		if err != nil {
			return fmt.Errorf("mesh: await confirm: %w", err)
		}
		switch msg.Kind {
		case KindConfirmed:
			if msg.ConfirmID == id {
				return nil
			}
		case KindCommitError:
			if msg.ErrID == id {
				return fmt.Errorf("mesh: commit rejected: %s", msg.Err)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		default:
		}
	}
}

// TryLock implements pipe.Pipe via a Lock/LockResult round trip.
func (c *Client) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) {
	if err := WriteFrame(c.conn, Message{Kind: KindLock, Key: key}, c.format); err != nil {
		return false, fmt.Errorf("mesh: try_lock: %w", err)
	}
	msg, err := c.Recv()
	if err != nil {
		return false, fmt.Errorf("mesh: try_lock reply: %w", err)
	}
	if msg.Kind != KindLockResult {
		return false, fmt.Errorf("mesh: unexpected reply kind %s to Lock", msg.Kind)
	}
	return msg.IsLocked, nil
}

// Unlock implements pipe.Pipe via an Unlock round trip.
func (c *Client) Unlock(ctx context.Context, key event.PrimaryKey) error {
	if err := WriteFrame(c.conn, Message{Kind: KindUnlock, Key: key}, c.format); err != nil {
		return fmt.Errorf("mesh: unlock: %w", err)
	}
	_, err := c.Recv()
	return err
}

// UnlockLocal is a no-op for a mesh client: locks are owned by the
// server, so there is no purely-local state to clear.
func (c *Client) UnlockLocal(key event.PrimaryKey) error { return nil }

// Conversation returns this connection's replay-prevention context.
func (c *Client) Conversation() *pipe.ConversationSession { return c.conversation }

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
