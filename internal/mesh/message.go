// Package mesh implements the wire protocol: framed, symmetric
// messages between a client and the server hosting a chain, subscriber
// groups keyed by a 64-bit hash of the chain key, and the
// Subscribe/Events/Lock/Unlock handlers.
package mesh

import (
	"github.com/untoldecay/trustchain/internal/event"
)

// Kind discriminates the wire message variants.
type Kind uint8

const (
	KindNoop Kind = iota
	KindConnected
	KindDisconnected
	KindSubscribe
	KindNotYetSubscribed
	KindNotFound
	KindNotThisRoot
	KindLock
	KindUnlock
	KindLockResult
	KindStartOfHistory
	KindEvents
	KindEndOfHistory
	KindConfirmed
	KindCommitError
	KindFatalTerminate
	KindSecuredWith
)

func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "Noop"
	case KindConnected:
		return "Connected"
	case KindDisconnected:
		return "Disconnected"
	case KindSubscribe:
		return "Subscribe"
	case KindNotYetSubscribed:
		return "NotYetSubscribed"
	case KindNotFound:
		return "NotFound"
	case KindNotThisRoot:
		return "NotThisRoot"
	case KindLock:
		return "Lock"
	case KindUnlock:
		return "Unlock"
	case KindLockResult:
		return "LockResult"
	case KindStartOfHistory:
		return "StartOfHistory"
	case KindEvents:
		return "Events"
	case KindEndOfHistory:
		return "EndOfHistory"
	case KindConfirmed:
		return "Confirmed"
	case KindCommitError:
		return "CommitError"
	case KindFatalTerminate:
		return "FatalTerminate"
	case KindSecuredWith:
		return "SecuredWith"
	default:
		return "Unknown"
	}
}

// WireEvent is one event as it travels over the wire: metadata, an
// optional payload, and the format each was encoded with.
type WireEvent struct {
	Meta   event.Metadata
	Data   []byte
	Format event.Format
}

// Message is the tagged union of every wire variant; exactly the
// fields relevant to Kind are populated.
type Message struct {
	Kind Kind

	// Subscribe
	ChainKey      string
	FromTimeMS    int64
	ClientVersion string

	// Lock / Unlock / LockResult
	Key      event.PrimaryKey
	IsLocked bool

	// StartOfHistory
	Size      uint64
	FromMS    *int64
	ToMS      *int64
	Integrity string
	RootKeys  []event.Hash

	// Events
	Commit *uint64
	Events []WireEvent

	// Confirmed
	ConfirmID uint64

	// CommitError / FatalTerminate
	ErrID uint64
	Err   string

	// SecuredWith
	SessionToken []byte
}

// ChainKeyHash is the 64-bit hash that keys a chain's broadcast group
// on the server and its chain cache ("Chain key").
func ChainKeyHash(key string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return h
}
