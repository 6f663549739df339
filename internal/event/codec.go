package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

func init() {
	gob.Register(Metadata{})
	gob.Register(Item{})
}

// EncodeMeta serializes m per the given format kind.
func EncodeMeta(m Metadata, kind FormatKind) ([]byte, error) {
	switch kind {
	case FormatJSON:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("event: encode metadata as json: %w", err)
		}
		return b, nil
	case FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(m); err != nil {
			return nil, fmt.Errorf("event: encode metadata as gob: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("event: unknown meta format %v", kind)
	}
}

// DecodeMeta deserializes metadata bytes per the given format kind.
func DecodeMeta(b []byte, kind FormatKind) (Metadata, error) {
	var m Metadata
	switch kind {
	case FormatJSON:
		if err := json.Unmarshal(b, &m); err != nil {
			return m, fmt.Errorf("event: decode metadata as json: %w", err)
		}
	case FormatGob:
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
			return m, fmt.Errorf("event: decode metadata as gob: %w", err)
		}
	default:
		return m, fmt.Errorf("event: unknown meta format %v", kind)
	}
	return m, nil
}

// EncodeData serializes an arbitrary payload value per the given format
// kind. Payloads are always opaque bytes on the wire/log; this helper is
// used by DIO when the caller hands it a typed Go value to store.
func EncodeData(v interface{}, kind FormatKind) ([]byte, error) {
	switch kind {
	case FormatJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("event: encode data as json: %w", err)
		}
		return b, nil
	case FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("event: encode data as gob: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("event: unknown data format %v", kind)
	}
}

// DecodeData deserializes payload bytes into v per the given format kind.
func DecodeData(b []byte, kind FormatKind, v interface{}) error {
	switch kind {
	case FormatJSON:
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("event: decode data as json: %w", err)
		}
	case FormatGob:
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
			return fmt.Errorf("event: decode data as gob: %w", err)
		}
	default:
		return fmt.Errorf("event: unknown data format %v", kind)
	}
	return nil
}

// HashMetaBytes computes the content-hash of already-encoded metadata
// bytes. This is the hash that identifies an event everywhere in the
// system (redo lookup key, timeline leaf, parent pointers).
func HashMetaBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

// HashMeta encodes m per kind and returns its content hash alongside the
// encoded bytes (callers writing a new event need both).
func HashMeta(m Metadata, kind FormatKind) (Hash, []byte, error) {
	b, err := EncodeMeta(m, kind)
	if err != nil {
		return Hash{}, nil, err
	}
	return HashMetaBytes(b), b, nil
}
