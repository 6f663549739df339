// Package compact provides the stock relevance-voting Compactor
// implementations a chain registers for its flip-based rewrite pass:
// each one inspects a single event header and votes Keep, Veto, or
// Abstain.
package compact

import (
	"time"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/timeline"
)

// LatestOnly keeps exactly the event currently pointed to by its
// primary key's timeline leaf — the standard log-compaction rule of
// collapsing a key's update history down to its most recent write.
type LatestOnly struct {
	Timeline *timeline.Timeline
}

func (c LatestOnly) Vote(hdr event.Header) chain.Vote {
	key, ok := hdr.Meta.DataKey()
	if !ok {
		return chain.Abstain
	}
	leaf, ok := c.Timeline.LookupPrimary(key)
	if !ok {
		return chain.Abstain
	}
	if leaf.Hash == hdr.Hash {
		return chain.Keep
	}
	return chain.Abstain
}

// RootAnchor always keeps root events (no parent pointer): genesis
// writes anchor the authorization chain other events' signatures are
// verified against, so they are never eligible for collection.
type RootAnchor struct{}

func (RootAnchor) Vote(hdr event.Header) chain.Vote {
	if hdr.Meta.IsRoot() {
		return chain.Keep
	}
	return chain.Abstain
}

// TombstoneWindow keeps a tombstone event for Retention after its
// timestamp, then abstains (letting it be dropped once no other
// compactor votes to keep it) — the usual "delete markers expire"
// policy for a compacting log.
type TombstoneWindow struct {
	Now       func() int64
	Retention time.Duration
}

func (c TombstoneWindow) Vote(hdr event.Header) chain.Vote {
	if _, isTombstone := hdr.Meta.TombstoneKey(); !isTombstone {
		return chain.Abstain
	}
	ts, ok := hdr.Meta.Timestamp()
	if !ok {
		return chain.Keep
	}
	now := c.Now()
	age := time.Duration(now-ts) * time.Millisecond
	if age < c.Retention {
		return chain.Keep
	}
	return chain.Abstain
}

// CoverRetain keeps batch "cover" events: a cover event carries no
// primary key of its own (LatestOnly would always abstain on it) but
// records batch-level authorization/session metadata that downstream
// readers may still need after compaction.
type CoverRetain struct {
	// MaxAge bounds how long a cover event survives; zero means keep
	// forever.
	MaxAge time.Duration
	Now    func() int64
}

func (c CoverRetain) Vote(hdr event.Header) chain.Vote {
	if _, ok := hdr.Meta.DataKey(); ok {
		return chain.Abstain // not a cover event
	}
	if _, isTombstone := hdr.Meta.TombstoneKey(); isTombstone {
		return chain.Abstain // tombstones are TombstoneWindow's concern
	}
	if c.MaxAge <= 0 {
		return chain.Keep
	}
	ts, ok := hdr.Meta.Timestamp()
	if !ok {
		return chain.Keep
	}
	age := time.Duration(c.Now()-ts) * time.Millisecond
	if age < c.MaxAge {
		return chain.Keep
	}
	return chain.Abstain
}
