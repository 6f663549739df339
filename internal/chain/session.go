package chain

import (
	"crypto/ed25519"

	"github.com/untoldecay/trustchain/internal/event"
)

// IntegrityMode selects how aggressively a chain verifies event
// provenance.
type IntegrityMode int

const (
	// Distributed requires every event to carry a signature from a
	// root key already known to the chain.
	Distributed IntegrityMode = iota
	// Centralized trusts the server's own signature and skips
	// per-peer root-key verification.
	Centralized
)

func (m IntegrityMode) String() string {
	if m == Centralized {
		return "centralized"
	}
	return "distributed"
}

// Session binds a caller's read/write keys to a DIO or pipe
// conversation; linters and transformers consult it to decide what a
// caller may decrypt or sign.
type Session struct {
	// Identity names the session for logging and reply routing.
	Identity string
	// ReadKeys are the data-key hashes this session can decrypt with,
	// keyed by the hash a transform's MissingReadKeyError names.
	ReadKeys map[event.Hash][]byte
	// WriteKeyHash authenticates events authored under this session.
	WriteKeyHash event.Hash
	// AllowMissingReadKeys, when set, makes a transform skip rows it
	// cannot decrypt instead of failing the whole read.
	AllowMissingReadKeys bool
	// SigningKey signs outbound events under Distributed integrity mode.
	// Nil under Centralized, where the server's own signature is trusted
	// and no per-session key is required.
	SigningKey ed25519.PrivateKey
}

// HasReadKey reports whether the session holds the key named by hash.
func (s *Session) HasReadKey(hash event.Hash) bool {
	if s == nil {
		return false
	}
	_, ok := s.ReadKeys[hash]
	return ok
}
