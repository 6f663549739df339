package chain

import (
	"crypto/ed25519"
	"fmt"

	"github.com/untoldecay/trustchain/internal/event"
)

// SigningLinter attaches a signature item to every outbound event under
// Distributed integrity mode, signing with the authoring session's
// SigningKey. It signs the event's complete metadata, so it must run
// last in the linter chain, after every other linter's additions
// (authorization, encryption IV, ...).
type SigningLinter struct{}

// LintEvent implements Linter.
func (SigningLinter) LintEvent(meta *event.Metadata, session *Session, txMeta *TransactionMetadata) error {
	if session == nil || session.SigningKey == nil {
		return fmt.Errorf("chain: distributed integrity mode requires a session signing key")
	}
	sig, err := event.SignMeta(session.SigningKey, *meta)
	if err != nil {
		return fmt.Errorf("chain: sign event: %w", err)
	}
	pub := session.SigningKey.Public().(ed25519.PublicKey)
	meta.AddSignature(event.Signature{PublicKeyHash: event.RootKeyHash(pub), Bytes: sig})
	return nil
}

// SignatureValidator verifies that every event carries a signature from
// a root key the chain already trusts. It is wired in only under
// Distributed integrity mode.
type SignatureValidator struct {
	TrustedRoots map[event.Hash]ed25519.PublicKey
}

// Validate implements Validator.
func (v SignatureValidator) Validate(hdr event.Header) error {
	sig, ok := hdr.Meta.Signature()
	if !ok {
		return fmt.Errorf("chain: event carries no signature")
	}
	pub, ok := v.TrustedRoots[sig.PublicKeyHash]
	if !ok {
		return fmt.Errorf("chain: event signed by unknown root key")
	}
	valid, err := event.VerifyMetaSignature(pub, hdr.Meta.WithoutSignature(), sig.Bytes)
	if err != nil {
		return fmt.Errorf("chain: verify event signature: %w", err)
	}
	if !valid {
		return fmt.Errorf("chain: event signature does not verify")
	}
	return nil
}
