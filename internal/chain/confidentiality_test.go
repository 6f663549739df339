package chain

import (
	"bytes"
	"testing"

	"github.com/untoldecay/trustchain/internal/event"
)

func readSpecificMeta(t *testing.T, keyHash event.Hash) event.Metadata {
	t.Helper()
	var m event.Metadata
	m.AddDataKey(event.NewPrimaryKey())
	m.AddAuthorization(event.Authorization{Read: event.ReadOption{Kind: event.ReadSpecific, KeyHash: keyHash}})
	return m
}

func TestConfidentialityRoundTrip(t *testing.T) {
	keyHash := event.RootKeyHash([]byte("reader-key-identity"))
	session := &Session{ReadKeys: map[event.Hash][]byte{
		keyHash: bytes.Repeat([]byte{0x42}, 32),
	}}

	meta := readSpecificMeta(t, keyHash)
	if err := (ConfidentialityLinter{}).LintEvent(&meta, session, &TransactionMetadata{}); err != nil {
		t.Fatalf("LintEvent: %v", err)
	}
	if _, ok := meta.EncryptionIV(); !ok {
		t.Fatal("ConfidentialityLinter did not attach an encryption IV")
	}

	plaintext := []byte("top secret payload")
	sealed, err := (ConfidentialityTransformer{}).Underlay(meta, plaintext, session, &TransactionMetadata{})
	if err != nil {
		t.Fatalf("Underlay: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("Underlay returned the plaintext payload unmodified")
	}

	opened, err := (ConfidentialityTransformer{}).Overlay(meta, sealed, session)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Overlay() = %q, want %q", opened, plaintext)
	}
}

func TestConfidentialityOverlayMissingReadKey(t *testing.T) {
	keyHash := event.RootKeyHash([]byte("reader-key-identity"))
	writer := &Session{ReadKeys: map[event.Hash][]byte{keyHash: bytes.Repeat([]byte{0x42}, 32)}}

	meta := readSpecificMeta(t, keyHash)
	if err := (ConfidentialityLinter{}).LintEvent(&meta, writer, &TransactionMetadata{}); err != nil {
		t.Fatalf("LintEvent: %v", err)
	}
	sealed, err := (ConfidentialityTransformer{}).Underlay(meta, []byte("top secret payload"), writer, &TransactionMetadata{})
	if err != nil {
		t.Fatalf("Underlay: %v", err)
	}

	reader := &Session{}
	_, err = (ConfidentialityTransformer{}).Overlay(meta, sealed, reader)
	if err == nil {
		t.Fatal("Overlay with no matching read key returned nil error")
	}
	if _, ok := err.(*event.MissingReadKeyError); !ok {
		t.Errorf("Overlay error = %v (%T), want *event.MissingReadKeyError", err, err)
	}
}

func TestConfidentialityPassesThroughWithoutReadSpecific(t *testing.T) {
	var meta event.Metadata
	meta.AddDataKey(event.NewPrimaryKey())

	plaintext := []byte("public payload")
	sealed, err := (ConfidentialityTransformer{}).Underlay(meta, plaintext, nil, &TransactionMetadata{})
	if err != nil {
		t.Fatalf("Underlay: %v", err)
	}
	if !bytes.Equal(sealed, plaintext) {
		t.Error("Underlay transformed a payload with no ReadSpecific authorization")
	}
}
