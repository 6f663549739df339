package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"github.com/buger/jsonparser"

	"github.com/untoldecay/trustchain/internal/event"
)

func init() {
	gob.Register(Message{})
}

// WireFormat selects how a frame's payload is serialized: Gob or JSON.
type WireFormat = event.FormatKind

// WriteFrame writes one length-prefixed frame to w: an 8-byte
// big-endian length, a 1-byte format discriminator, then the encoded
// message.
func WriteFrame(w io.Writer, msg Message, format WireFormat) error {
	payload, err := encode(msg, format)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload))+1)
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("mesh: write frame length: %w", err)
	}
	if err := bw.WriteByte(byte(format)); err != nil {
		return fmt.Errorf("mesh: write frame format byte: %w", err)
	}
	if _, err := bw.Write(payload); err != nil {
		return fmt.Errorf("mesh: write frame payload: %w", err)
	}
	return bw.Flush()
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Message, error) {
	br := bufio.NewReader(r)
	var lenBuf [8]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return Message{}, fmt.Errorf("mesh: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n == 0 {
		return Message{}, fmt.Errorf("mesh: empty frame")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return Message{}, fmt.Errorf("mesh: read frame body: %w", err)
	}
	format := WireFormat(body[0])
	return decode(body[1:], format)
}

func encode(msg Message, format WireFormat) ([]byte, error) {
	switch format {
	case event.FormatJSON:
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("mesh: encode json message: %w", err)
		}
		return b, nil
	case event.FormatGob:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
			return nil, fmt.Errorf("mesh: encode gob message: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("mesh: unknown wire format %v", format)
	}
}

func decode(b []byte, format WireFormat) (Message, error) {
	var msg Message
	switch format {
	case event.FormatJSON:
		if err := json.Unmarshal(b, &msg); err != nil {
			return msg, fmt.Errorf("mesh: decode json message: %w", err)
		}
	case event.FormatGob:
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&msg); err != nil {
			return msg, fmt.Errorf("mesh: decode gob message: %w", err)
		}
	default:
		return msg, fmt.Errorf("mesh: unknown wire format %v", format)
	}
	return msg, nil
}

// PeekKind inspects a JSON-encoded frame body without fully decoding
// it, used by diagnostic tooling that wants to log a frame's kind
// before (or instead of) decoding the whole message.
func PeekKind(jsonBody []byte) (Kind, error) {
	v, err := jsonparser.GetInt(jsonBody, "Kind")
	if err != nil {
		return 0, fmt.Errorf("mesh: peek frame kind: %w", err)
	}
	return Kind(v), nil
}
