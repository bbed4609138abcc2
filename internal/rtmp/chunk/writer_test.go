package chunk

import (
	"bytes"
	"testing"
)

func TestEncodeBasicHeaderRanges(t *testing.T) {
	if _, err := encodeBasicHeader(nil, fmt0, 1); err == nil {
		t.Error("expected an error for csid below the supported range")
	}
	if _, err := encodeBasicHeader(nil, fmt0, 320); err == nil {
		t.Error("expected an error for csid above the supported range")
	}

	b, err := encodeBasicHeader(nil, fmt0, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != 1 || b[0] != byte(fmt0<<6)|3 {
		t.Errorf("unexpected single-byte header: %x", b)
	}

	b, err = encodeBasicHeader(nil, fmt3, 100)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != 2 || b[0] != byte(fmt3<<6) || b[1] != byte(100-64) {
		t.Errorf("unexpected two-byte header: %x", b)
	}
}

func TestWriteMessageSingleChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 128)
	msg := EncodeCommandMessage(0, 0, []byte("hello"))

	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	out := buf.Bytes()
	// Basic header (1 byte, fmt0 on CSIDCommand) + 11-byte message header.
	if len(out) < 12 {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	if out[0] != byte(fmt0<<6)|byte(CSIDCommand) {
		t.Errorf("unexpected basic header byte: %x", out[0])
	}
	payload := out[12:]
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

func TestWriteMessageFragmentsAcrossChunkSize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 4)
	msg := EncodeCommandMessage(0, 0, []byte("01234567")) // 2 chunks of 4

	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	out := buf.Bytes()
	// FMT0 basic header (1) + message header (11) + first 4-byte fragment
	// + FMT3 continuation basic header (1) + second 4-byte fragment.
	wantLen := 1 + 11 + 4 + 1 + 4
	if len(out) != wantLen {
		t.Fatalf("output length = %d, want %d", len(out), wantLen)
	}
	continuationMarker := out[1+11+4]
	if continuationMarker != byte(fmt3<<6)|byte(CSIDCommand) {
		t.Errorf("expected FMT3 continuation header, got %x", continuationMarker)
	}
}

func TestWriteMessageRejectsLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 128)
	msg := &Message{CSID: CSIDCommand, MessageLength: 10, Payload: []byte("short")}
	if err := w.WriteMessage(msg); err == nil {
		t.Error("expected an error when declared length doesn't match payload")
	}
}

func TestWriteMessageNilGuards(t *testing.T) {
	var w *Writer
	if err := w.WriteMessage(&Message{}); err == nil {
		t.Error("expected an error writing through a nil Writer")
	}

	w2 := NewWriter(&bytes.Buffer{}, 128)
	if err := w2.WriteMessage(nil); err == nil {
		t.Error("expected an error writing a nil Message")
	}
}
