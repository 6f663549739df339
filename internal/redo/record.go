package redo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/untoldecay/trustchain/internal/event"
)

// recordVersion is the on-disk event-version byte.
type recordVersion uint8

const (
	recordV1 recordVersion = 1 // legacy: single format field for meta+data
	recordV2 recordVersion = 2 // current: separate meta/data format codes
)

const currentRecordVersion = recordV2

// writeRecord appends one (header, payload) record to w in the V2
// layout:
//
//	<version:u8> <meta-fmt:u8> <data-fmt:u8> <meta-len:varint> <meta-bytes>
//	<has-data:u8> [<data-len:varint> <data-bytes>]
func writeRecord(w io.Writer, metaBytes []byte, data []byte, format event.Format) (int64, error) {
	var n int64
	buf := make([]byte, 0, 16)
	buf = append(buf, byte(currentRecordVersion), byte(format.Meta), byte(format.Data))
	wrote, err := w.Write(buf)
	n += int64(wrote)
	if err != nil {
		return n, fmt.Errorf("redo: write record header: %w", err)
	}

	vn, err := writeUvarintTo(w, uint64(len(metaBytes)))
	n += vn
	if err != nil {
		return n, err
	}
	wrote, err = w.Write(metaBytes)
	n += int64(wrote)
	if err != nil {
		return n, fmt.Errorf("redo: write meta bytes: %w", err)
	}

	hasData := byte(0)
	if data != nil {
		hasData = 1
	}
	wrote, err = w.Write([]byte{hasData})
	n += int64(wrote)
	if err != nil {
		return n, fmt.Errorf("redo: write has-data flag: %w", err)
	}
	if data != nil {
		vn, err = writeUvarintTo(w, uint64(len(data)))
		n += vn
		if err != nil {
			return n, err
		}
		wrote, err = w.Write(data)
		n += int64(wrote)
		if err != nil {
			return n, fmt.Errorf("redo: write data bytes: %w", err)
		}
	}
	return n, nil
}

func writeUvarintTo(w io.Writer, v uint64) (int64, error) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	wrote, err := w.Write(tmp[:n])
	if err != nil {
		return int64(wrote), fmt.Errorf("redo: write varint: %w", err)
	}
	return int64(wrote), nil
}

// decodedRecord is a fully parsed on-disk record, prior to content-hash
// verification and typed metadata reconstruction.
type decodedRecord struct {
	metaBytes []byte
	data      []byte
	format    event.Format
	size      int64 // total bytes consumed, for offset bookkeeping
}

// readRecord parses one record from r. io.EOF (clean end of stream) and
// io.ErrUnexpectedEOF (truncated mid-record) are both returned verbatim
// so the caller can distinguish "done" from "tail truncation": a
// truncation at a record boundary is recoverable and the loader simply
// stops.
func readRecord(r *bufio.Reader) (*decodedRecord, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	version := recordVersion(head[0])

	var format event.Format
	switch version {
	case recordV1:
		// V1 packs a single format byte; head[1] holds it, head[2] was
		// actually already the start of the varint, so rewind one byte.
		format = event.Format{Meta: event.FormatKind(head[1]), Data: event.FormatKind(head[1])}
		if err := r.UnreadByte(); err != nil {
			return nil, fmt.Errorf("redo: rewind after v1 header: %w", err)
		}
	case recordV2:
		format = event.Format{Meta: event.FormatKind(head[1]), Data: event.FormatKind(head[2])}
	default:
		return nil, fmt.Errorf("redo: unrecognized record version %d", head[0])
	}

	metaLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, wrapShortRead(err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, wrapShortRead(err)
	}

	hasData, err := r.ReadByte()
	if err != nil {
		return nil, wrapShortRead(err)
	}

	var data []byte
	if hasData != 0 {
		dataLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, wrapShortRead(err)
		}
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, wrapShortRead(err)
		}
	}

	return &decodedRecord{metaBytes: metaBytes, data: data, format: format}, nil
}

func wrapShortRead(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
