package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	fmt0 = 0
	fmt3 = 3
)

// encodeBasicHeader encodes the 1-3 byte Basic Header for fmtVal/csid.
func encodeBasicHeader(dst []byte, fmtVal uint8, csid uint32) ([]byte, error) {
	switch {
	case csid >= 2 && csid <= 63:
		dst = append(dst, byte(fmtVal<<6)|byte(csid))
	case csid >= 64 && csid <= 319:
		dst = append(dst, byte(fmtVal<<6), byte(csid-64))
	default:
		return nil, fmt.Errorf("chunk: csid %d out of supported range", csid)
	}
	return dst, nil
}

func writeUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Writer emits RTMP chunks for outbound messages over a single connection.
// Not concurrency-safe: callers serialize writes per connection, matching
// alxayo-rtmp-go's Writer usage (one write goroutine per connection).
type Writer struct {
	w         io.Writer
	chunkSize uint32
}

// NewWriter constructs a Writer with the given outbound chunk size (RTMP
// default 128 if zero).
func NewWriter(w io.Writer, chunkSize uint32) *Writer {
	if chunkSize == 0 {
		chunkSize = 128
	}
	return &Writer{w: w, chunkSize: chunkSize}
}

// WriteMessage fragments and writes msg as an FMT0 chunk header followed by
// as many FMT3 continuation chunks as the payload needs. This core only
// ever writes short-lived command messages (onStatus replies), so unlike a
// full chunk-stream writer it does not track per-CSID header-compression
// state across messages — every message starts a fresh FMT0 header.
func (w *Writer) WriteMessage(msg *Message) error {
	if w == nil || w.w == nil {
		return errors.New("chunk: nil writer")
	}
	if msg == nil {
		return errors.New("chunk: nil message")
	}
	if msg.MessageLength == 0 {
		msg.MessageLength = uint32(len(msg.Payload))
	}
	if int(msg.MessageLength) != len(msg.Payload) {
		return fmt.Errorf("chunk: payload length %d != declared %d", len(msg.Payload), msg.MessageLength)
	}

	header, err := encodeFMT0Header(msg)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(header); err != nil {
		return err
	}

	cs := w.chunkSize
	remaining := msg.Payload
	first := true
	for len(remaining) > 0 {
		n := uint32(len(remaining))
		if n > cs {
			n = cs
		}
		if !first {
			fmt3Header, err := encodeBasicHeader(nil, fmt3, msg.CSID)
			if err != nil {
				return err
			}
			if _, err := w.w.Write(fmt3Header); err != nil {
				return err
			}
		}
		if _, err := w.w.Write(remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
		first = false
	}
	return nil
}

func encodeFMT0Header(msg *Message) ([]byte, error) {
	needExtended := msg.Timestamp >= extendedTimestampMarker

	buf := make([]byte, 0, 3+11+4)
	buf, err := encodeBasicHeader(buf, fmt0, msg.CSID)
	if err != nil {
		return nil, err
	}

	mh := make([]byte, 11)
	if needExtended {
		writeUint24(mh[0:3], extendedTimestampMarker)
	} else {
		writeUint24(mh[0:3], msg.Timestamp)
	}
	writeUint24(mh[3:6], msg.MessageLength)
	mh[6] = msg.TypeID
	binary.LittleEndian.PutUint32(mh[7:11], msg.MessageStreamID)
	buf = append(buf, mh...)

	if needExtended {
		var ext [4]byte
		binary.BigEndian.PutUint32(ext[:], msg.Timestamp)
		buf = append(buf, ext[:]...)
	}
	return buf, nil
}

// EncodeCommandMessage builds a Message wrapping an AMF0 command payload
// (e.g. amf.EncodeOnStatus's output) on the conventional command channel.
func EncodeCommandMessage(streamID uint32, timestampMS uint32, payload []byte) *Message {
	return &Message{
		CSID:            CSIDCommand,
		Timestamp:       timestampMS,
		MessageLength:   uint32(len(payload)),
		TypeID:          TypeCommandAMF0,
		MessageStreamID: streamID,
		Payload:         payload,
	}
}
