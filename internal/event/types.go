// Package event defines the wire-and-disk representation of a single
// chain-of-trust record: its metadata items, content hash, and the two
// serialization formats events may be encoded in.
package event

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Hash is the content-hash identity of an event's metadata bytes.
type Hash [32]byte

// ZeroHash is the hash of no event; used as a sentinel "no parent".
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// HashFromHex parses a hex-encoded hash as produced by Hash.String.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// PrimaryKey is the 64-bit opaque identity of a materialized row.
type PrimaryKey uint64

func (k PrimaryKey) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// IsZero reports whether k is the unset primary key.
func (k PrimaryKey) IsZero() bool {
	return k == 0
}

// NewPrimaryKey generates a random, non-zero primary key.
func NewPrimaryKey() PrimaryKey {
	for {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("event: failed to read random bytes: %v", err))
		}
		k := PrimaryKey(binary.BigEndian.Uint64(b[:]))
		if !k.IsZero() {
			return k
		}
	}
}

// FormatKind names a single serialization codec.
type FormatKind uint8

const (
	// FormatGob is the compact binary wire format, realized with the
	// standard library's encoding/gob.
	FormatGob FormatKind = iota
	// FormatJSON is the human-readable wire format.
	FormatJSON
)

func (f FormatKind) String() string {
	switch f {
	case FormatGob:
		return "gob"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("FormatKind(%d)", uint8(f))
	}
}

// Format pairs the metadata codec with the data codec, mirroring the
// V2 on-disk record layout's separate meta/data format codes.
type Format struct {
	Meta FormatKind
	Data FormatKind
}

// DefaultFormat is used when a session specifies no override.
var DefaultFormat = Format{Meta: FormatJSON, Data: FormatGob}

// Leaf is a pointer into the timeline: the latest event hash carrying a
// given primary key, plus the creation/update timestamps bracketing its
// lifetime in the index.
type Leaf struct {
	Hash      Hash
	CreatedMS int64
	UpdatedMS int64
}

// Header is everything about an event except its payload bytes: the
// content hash, the metadata, and a pointer to the (optional) data.
type Header struct {
	Hash     Hash
	Meta     Metadata
	DataHash *Hash
	DataSize uint64
	Format   Format
}

// Event is a full on-disk/on-wire record: a header plus its payload.
type Event struct {
	Header Header
	Data   []byte
}

// CollectionRef names a logical child bucket: all events whose metadata
// carries this ref belong to parent's collectionID-numbered collection.
type CollectionRef struct {
	ParentID     PrimaryKey
	CollectionID uint64
}

func (c CollectionRef) String() string {
	return fmt.Sprintf("%s/%d", c.ParentID, c.CollectionID)
}
