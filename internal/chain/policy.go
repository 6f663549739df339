package chain

import (
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// TransactionMetadata is the per-commit shared state that accumulates
// as each row's metadata is linted, so a later batch-lint pass (or the
// next row in the same batch inheriting a parent's authorization) can
// see what earlier rows decided.
type TransactionMetadata struct {
	Authorization *event.Authorization
	Parent        *event.ParentPointer
}

// Linter runs once per outgoing event and may append metadata items
// (authorization, encryption IV, parent inheritance, type info,
// signatures).
type Linter interface {
	LintEvent(meta *event.Metadata, session *Session, txMeta *TransactionMetadata) error
}

// BatchLinter runs once per transaction and may return an extra "cover"
// metadata set that gets prepended to the batch as its own event.
type BatchLinter interface {
	LintMany(lints []event.Metadata, session *Session, conv *pipe.ConversationSession) (event.Metadata, bool, error)
}

// Transformer applies a reversible byte-level transform to an event's
// payload (encryption, compression). Underlay runs outbound, Overlay
// runs inbound, and transformers sit closest to the data both ways:
// they run before any Plugin on the way out and after it on the way in.
type Transformer interface {
	Underlay(meta event.Metadata, data []byte, session *Session, txMeta *TransactionMetadata) ([]byte, error)
	Overlay(meta event.Metadata, data []byte, session *Session) ([]byte, error)
}

// Plugin is a Transformer that wraps every other transformer: it runs
// last on the way out and first on the way in.
type Plugin interface {
	Transformer
}

// Validator vetoes an event outright; a non-nil error aborts the feed
// that produced it.
type Validator interface {
	Validate(hdr event.Header) error
}

// Listener observes every event folded into the timeline, after
// validation succeeds.
type Listener interface {
	OnEvent(hdr event.Header)
}

// Compactor votes on whether an event is still relevant during
// compaction. An event is kept iff at least one
// compactor votes Keep and none votes Veto.
type Compactor interface {
	Vote(hdr event.Header) Vote
}

// Vote is one compactor's opinion of a single event during a
// compaction pass.
type Vote int

const (
	// Abstain expresses no opinion; does not affect keep/drop.
	Abstain Vote = iota
	// Keep votes to retain the event.
	Keep
	// Veto forces the event to be dropped regardless of other votes.
	Veto
)

// CompactMode selects what wakes the compactor worker.
type CompactMode int

const (
	// CompactNever disables the compactor worker entirely.
	CompactNever CompactMode = iota
	// CompactPeriodic wakes on a fixed interval.
	CompactPeriodic
	// CompactSize compacts once the log's event count (the stand-in
	// for archive size; archive bytes are not measured) reaches the
	// size threshold.
	CompactSize
	// CompactFactor compacts on every Trigger call. No dead-event
	// ratio is computed, and log growth alone never wakes it.
	CompactFactor
	// CompactGrowthFactor compacts once the log's event count has grown
	// by a multiplicative factor since the last compaction (before the
	// first one, once it reaches the size threshold).
	CompactGrowthFactor
)
