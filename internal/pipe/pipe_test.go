package pipe

import (
	"context"
	"errors"
	"testing"

	"github.com/untoldecay/trustchain/internal/event"
)

func TestScopeString(t *testing.T) {
	cases := []struct {
		s    Scope
		want string
	}{
		{ScopeNone, "none"},
		{ScopeLocal, "local"},
		{ScopeFull, "full"},
		{Scope(99), "Scope(99)"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("Scope(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestNewConversationSessionIsUnique(t *testing.T) {
	a := NewConversationSession()
	b := NewConversationSession()
	if a.ID == "" {
		t.Fatal("NewConversationSession() returned an empty ID")
	}
	if a.ID == b.ID {
		t.Fatal("two consecutive NewConversationSession() calls returned the same ID")
	}
}

func TestNullIsANoOp(t *testing.T) {
	var n Null
	ctx := context.Background()
	key := event.PrimaryKey(1)

	if err := n.Feed(ctx, Transaction{}); err != nil {
		t.Errorf("Null.Feed: %v", err)
	}
	ok, err := n.TryLock(ctx, key)
	if err != nil || !ok {
		t.Errorf("Null.TryLock = (%v, %v), want (true, nil)", ok, err)
	}
	if err := n.Unlock(ctx, key); err != nil {
		t.Errorf("Null.Unlock: %v", err)
	}
	if c := n.Conversation(); c != nil {
		t.Errorf("Null.Conversation() = %v, want nil", c)
	}
}

type fakeSink struct {
	txs []Transaction
	err error
}

func (s *fakeSink) Enqueue(ctx context.Context, tx Transaction) error {
	if s.err != nil {
		return s.err
	}
	s.txs = append(s.txs, tx)
	return nil
}

func TestInboxFeedForwardsToSink(t *testing.T) {
	sink := &fakeSink{}
	inbox := NewInbox(sink)
	tx := Transaction{Scope: ScopeLocal, Events: []event.Event{{}}}

	if err := inbox.Feed(context.Background(), tx); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(sink.txs) != 1 {
		t.Fatalf("sink received %d transactions, want 1", len(sink.txs))
	}
}

func TestInboxLocksAreExclusiveUntilUnlocked(t *testing.T) {
	inbox := NewInbox(&fakeSink{})
	ctx := context.Background()
	key := event.PrimaryKey(7)

	ok, err := inbox.TryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("first TryLock = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = inbox.TryLock(ctx, key)
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if ok {
		t.Fatal("second TryLock() = true while the key is still held")
	}

	if err := inbox.Unlock(ctx, key); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = inbox.TryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("TryLock after Unlock = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestInboxConversationIsNil(t *testing.T) {
	inbox := NewInbox(&fakeSink{})
	if c := inbox.Conversation(); c != nil {
		t.Errorf("Inbox.Conversation() = %v, want nil", c)
	}
}

type recordingPipe struct {
	fed     []Transaction
	feedErr error
	conv    *ConversationSession
}

func (p *recordingPipe) Feed(ctx context.Context, tx Transaction) error {
	if p.feedErr != nil {
		return p.feedErr
	}
	p.fed = append(p.fed, tx)
	return nil
}
func (p *recordingPipe) TryLock(ctx context.Context, key event.PrimaryKey) (bool, error) {
	return true, nil
}
func (p *recordingPipe) Unlock(ctx context.Context, key event.PrimaryKey) error { return nil }
func (p *recordingPipe) UnlockLocal(key event.PrimaryKey) error                 { return nil }
func (p *recordingPipe) Conversation() *ConversationSession                     { return p.conv }

func TestDuelFeedsBothPipesInOrder(t *testing.T) {
	primary := &recordingPipe{}
	secondary := &recordingPipe{}
	d := &Duel{Primary: primary, Secondary: secondary}
	tx := Transaction{Scope: ScopeFull}

	if err := d.Feed(context.Background(), tx); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(primary.fed) != 1 || len(secondary.fed) != 1 {
		t.Fatalf("primary fed %d, secondary fed %d, want 1 each", len(primary.fed), len(secondary.fed))
	}
}

func TestDuelStopsAtPrimaryError(t *testing.T) {
	wantErr := errors.New("primary exploded")
	primary := &recordingPipe{feedErr: wantErr}
	secondary := &recordingPipe{}
	d := &Duel{Primary: primary, Secondary: secondary}

	err := d.Feed(context.Background(), Transaction{})
	if err == nil {
		t.Fatal("Feed returned nil error when the primary pipe failed")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("Feed error = %v, want it to wrap %v", err, wantErr)
	}
	if len(secondary.fed) != 0 {
		t.Error("Duel fed the secondary pipe after the primary failed")
	}
}

func TestDuelConversationPrefersPrimary(t *testing.T) {
	primaryConv := &ConversationSession{ID: "primary"}
	secondaryConv := &ConversationSession{ID: "secondary"}

	d := &Duel{Primary: &recordingPipe{conv: primaryConv}, Secondary: &recordingPipe{conv: secondaryConv}}
	if got := d.Conversation(); got != primaryConv {
		t.Errorf("Conversation() = %v, want the primary's session", got)
	}

	d = &Duel{Primary: &recordingPipe{}, Secondary: &recordingPipe{conv: secondaryConv}}
	if got := d.Conversation(); got != secondaryConv {
		t.Errorf("Conversation() = %v, want the secondary's session when the primary has none", got)
	}
}

type fakeDowncaster struct {
	calls int
	key   string
	err   error
}

func (d *fakeDowncaster) Downcast(ctx context.Context, chainKey string, tx Transaction) error {
	d.calls++
	d.key = chainKey
	return d.err
}

func TestServerDowncastBroadcastsOnlyWhenTransmitRequested(t *testing.T) {
	next := &recordingPipe{}
	dc := &fakeDowncaster{}
	sd := &ServerDowncast{ChainKey: "demo", Downcaster: dc, Next: next}

	if err := sd.Feed(context.Background(), Transaction{Transmit: false}); err != nil {
		t.Fatalf("Feed (no transmit): %v", err)
	}
	if dc.calls != 0 {
		t.Fatalf("Downcast called %d times for a non-transmitting transaction, want 0", dc.calls)
	}

	if err := sd.Feed(context.Background(), Transaction{Transmit: true}); err != nil {
		t.Fatalf("Feed (transmit): %v", err)
	}
	if dc.calls != 1 {
		t.Fatalf("Downcast called %d times, want 1", dc.calls)
	}
	if dc.key != "demo" {
		t.Errorf("Downcast chainKey = %q, want %q", dc.key, "demo")
	}
	if len(next.fed) != 2 {
		t.Fatalf("Next pipe fed %d transactions, want 2", len(next.fed))
	}
}

func TestServerDowncastPropagatesDowncastError(t *testing.T) {
	wantErr := errors.New("broadcast failed")
	next := &recordingPipe{}
	sd := &ServerDowncast{ChainKey: "demo", Downcaster: &fakeDowncaster{err: wantErr}, Next: next}

	err := sd.Feed(context.Background(), Transaction{Transmit: true})
	if err == nil {
		t.Fatal("Feed returned nil error when the downcaster failed")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("Feed error = %v, want it to wrap %v", err, wantErr)
	}
	if len(next.fed) != 0 {
		t.Error("Next pipe was fed after the downcaster failed")
	}
}
