package event

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// rootKeyIterations is the PBKDF2 stretching cost used when deriving a
// root's symmetric key from a human passphrase.
const rootKeyIterations = 100_000

// DeriveRootKey stretches passphrase into a 32-byte symmetric key for
// a Distributed-integrity chain root, salted with the root event's own
// hash so two roots sharing a passphrase never collide on key
// material.
func DeriveRootKey(passphrase string, rootHash Hash) []byte {
	return pbkdf2.Key([]byte(passphrase), rootHash[:], rootKeyIterations, 32, sha256.New)
}

// RootKeyHash derives the chain-indexed identity of an Ed25519 public
// key, the value a Signature item's PublicKeyHash names and a chain's
// trusted-root set is keyed by.
func RootKeyHash(pub ed25519.PublicKey) Hash {
	return sha256.Sum256(pub)
}

// SignMeta signs m's canonical encoding with priv. m must not yet carry
// a Signature item (strip one first with WithoutSignature), since an
// event cannot sign its own signature bytes.
func SignMeta(priv ed25519.PrivateKey, m Metadata) ([]byte, error) {
	b, err := EncodeMeta(m, FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("event: sign metadata: %w", err)
	}
	return ed25519.Sign(priv, b), nil
}

// VerifyMetaSignature reports whether sig is a valid Ed25519 signature
// over m's canonical encoding under pub. m must already have its
// Signature item stripped, mirroring what SignMeta signed.
func VerifyMetaSignature(pub ed25519.PublicKey, m Metadata, sig []byte) (bool, error) {
	b, err := EncodeMeta(m, FormatJSON)
	if err != nil {
		return false, fmt.Errorf("event: verify metadata signature: %w", err)
	}
	return ed25519.Verify(pub, b, sig), nil
}
