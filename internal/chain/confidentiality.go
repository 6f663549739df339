package chain

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/untoldecay/trustchain/internal/event"
)

// ConfidentialityLinter generates a fresh nonce for any event carrying
// a ReadSpecific authorization and attaches it as the event's
// encryption IV, so ConfidentialityTransformer's Underlay (which only
// sees a copy of the metadata, not a pointer) has something to seal
// under. It must run before ConfidentialityTransformer in the linter
// and transformer lists.
type ConfidentialityLinter struct{}

// LintEvent implements Linter.
func (ConfidentialityLinter) LintEvent(meta *event.Metadata, session *Session, txMeta *TransactionMetadata) error {
	auth, ok := meta.GetAuthorization()
	if !ok || auth.Read.Kind != event.ReadSpecific {
		return nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("chain: generate encryption nonce: %w", err)
	}
	meta.AddEncryptionIV(nonce[:])
	return nil
}

// ConfidentialityTransformer seals a ReadSpecific event's payload with
// NaCl secretbox under the session's matching read key, the native Go
// counterpart to a WASM-hosted transform plugin. Events with no
// authorization, or with ReadEveryone/ReadInherit, pass through
// untouched.
type ConfidentialityTransformer struct{}

// Underlay implements Transformer.
func (ConfidentialityTransformer) Underlay(meta event.Metadata, data []byte, session *Session, txMeta *TransactionMetadata) ([]byte, error) {
	auth, ok := meta.GetAuthorization()
	if !ok || auth.Read.Kind != event.ReadSpecific {
		return data, nil
	}
	iv, ok := meta.EncryptionIV()
	if !ok {
		return nil, fmt.Errorf("chain: sealed event carries no encryption IV")
	}
	if session == nil {
		return nil, &event.MissingReadKeyError{KeyHash: auth.Read.KeyHash}
	}
	key, ok := session.ReadKeys[auth.Read.KeyHash]
	if !ok {
		return nil, &event.MissingReadKeyError{KeyHash: auth.Read.KeyHash}
	}
	var boxKey [32]byte
	copy(boxKey[:], key)
	var nonce [24]byte
	copy(nonce[:], iv)

	return secretbox.Seal(nil, data, &nonce, &boxKey), nil
}

// Overlay implements Transformer.
func (ConfidentialityTransformer) Overlay(meta event.Metadata, data []byte, session *Session) ([]byte, error) {
	auth, ok := meta.GetAuthorization()
	if !ok || auth.Read.Kind != event.ReadSpecific {
		return data, nil
	}
	iv, ok := meta.EncryptionIV()
	if !ok {
		return nil, fmt.Errorf("chain: sealed event carries no encryption IV")
	}
	if session == nil {
		return nil, &event.MissingReadKeyError{KeyHash: auth.Read.KeyHash}
	}
	key, ok := session.ReadKeys[auth.Read.KeyHash]
	if !ok {
		return nil, &event.MissingReadKeyError{KeyHash: auth.Read.KeyHash}
	}
	var boxKey [32]byte
	copy(boxKey[:], key)
	var nonce [24]byte
	copy(nonce[:], iv)

	opened, okOpen := secretbox.Open(nil, data, &nonce, &boxKey)
	if !okOpen {
		return nil, fmt.Errorf("chain: decrypt payload: authentication failed")
	}
	return opened, nil
}
