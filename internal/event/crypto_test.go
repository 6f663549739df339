package event

import (
	"crypto/ed25519"
	"testing"
)

func TestDeriveRootKeyIsDeterministic(t *testing.T) {
	var root Hash
	root[0] = 1

	a := DeriveRootKey("correct horse battery staple", root)
	b := DeriveRootKey("correct horse battery staple", root)
	if string(a) != string(b) {
		t.Fatal("DeriveRootKey is not deterministic for the same passphrase and root hash")
	}
	if len(a) != 32 {
		t.Fatalf("DeriveRootKey returned %d bytes, want 32", len(a))
	}
}

func TestDeriveRootKeySaltsByRootHash(t *testing.T) {
	var rootA, rootB Hash
	rootA[0] = 1
	rootB[0] = 2

	keyA := DeriveRootKey("shared passphrase", rootA)
	keyB := DeriveRootKey("shared passphrase", rootB)
	if string(keyA) == string(keyB) {
		t.Fatal("two roots sharing a passphrase derived the same key")
	}
}

func TestSignAndVerifyMetaRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	var m Metadata
	m.AddDataKey(PrimaryKey(1))
	m.AddTimestamp(1000)

	sig, err := SignMeta(priv, m)
	if err != nil {
		t.Fatalf("SignMeta: %v", err)
	}

	m.AddSignature(Signature{PublicKeyHash: RootKeyHash(pub), Bytes: sig})

	got, ok := m.Signature()
	if !ok {
		t.Fatal("Signature() = false after AddSignature")
	}

	valid, err := VerifyMetaSignature(pub, m.WithoutSignature(), got.Bytes)
	if err != nil {
		t.Fatalf("VerifyMetaSignature: %v", err)
	}
	if !valid {
		t.Error("VerifyMetaSignature rejected a genuine signature")
	}
}

func TestVerifyMetaSignatureRejectsTamperedMetadata(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	var m Metadata
	m.AddDataKey(PrimaryKey(1))
	m.AddTimestamp(1000)

	sig, err := SignMeta(priv, m)
	if err != nil {
		t.Fatalf("SignMeta: %v", err)
	}

	m.AddTimestamp(2000) // tamper: append a second, conflicting timestamp

	valid, err := VerifyMetaSignature(pub, m, sig)
	if err != nil {
		t.Fatalf("VerifyMetaSignature: %v", err)
	}
	if valid {
		t.Error("VerifyMetaSignature accepted a signature over tampered metadata")
	}
}

func TestRootKeyHashIsDeterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if RootKeyHash(pub) != RootKeyHash(pub) {
		t.Fatal("RootKeyHash is not deterministic for the same public key")
	}
}
