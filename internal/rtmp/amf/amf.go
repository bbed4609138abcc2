// Package amf implements the subset of AMF0 encoding this core needs to
// build RTMP onStatus command messages (NetStream.Publish.Start,
// NetStream.Publish.BadName, NetConnection.Connect.Rejected, and similar).
// Adapted from alxayo-rtmp-go's internal/rtmp/amf package: the marker-byte
// dispatch and EncodeAll shape are the same (there is no decoder), trimmed to the
// values a status message actually carries (number, boolean, string, null,
// object) since this core is a status-message producer, not a general AMF
// codec for a full RTMP stack.
package amf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	markerNumber  = 0x00
	markerBoolean = 0x01
	markerString  = 0x02
	markerObject  = 0x03
	markerNull    = 0x05
)

// EncodeValue encodes a single AMF0 value to w, dispatching on v's Go type:
// nil -> Null, float64 -> Number, bool -> Boolean, string -> String,
// map[string]interface{} -> Object.
func EncodeValue(w io.Writer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		_, err := w.Write([]byte{markerNull})
		return err
	case float64:
		return encodeNumber(w, val)
	case bool:
		return encodeBoolean(w, val)
	case string:
		return encodeString(w, val)
	case map[string]interface{}:
		return encodeObject(w, val)
	default:
		return fmt.Errorf("amf: unsupported encode type %T", v)
	}
}

func encodeNumber(w io.Writer, v float64) error {
	var buf [9]byte
	buf[0] = markerNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func encodeBoolean(w io.Writer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	_, err := w.Write([]byte{markerBoolean, b})
	return err
}

func encodeUTF8(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("amf: string too long for UTF8 (%d bytes)", len(s))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func encodeString(w io.Writer, s string) error {
	if _, err := w.Write([]byte{markerString}); err != nil {
		return err
	}
	return encodeUTF8(w, s)
}

func encodeObject(w io.Writer, m map[string]interface{}) error {
	if _, err := w.Write([]byte{markerObject}); err != nil {
		return err
	}
	for k, v := range m {
		if err := encodeUTF8(w, k); err != nil {
			return err
		}
		if err := EncodeValue(w, v); err != nil {
			return err
		}
	}
	// object-end marker: empty UTF8 name + 0x09
	if err := encodeUTF8(w, ""); err != nil {
		return err
	}
	_, err := w.Write([]byte{0x09})
	return err
}

// EncodeAll encodes a sequence of AMF0 values in order, as an RTMP command
// message payload is a concatenation of values (e.g. "onStatus", 0, infoObj).
func EncodeAll(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := EncodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("amf: value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// StatusObject builds the info-object payload for an RTMP onStatus message
// (level "status"|"error"|"warning", code, description).
func StatusObject(level, code, description string) map[string]interface{} {
	return map[string]interface{}{
		"level":       level,
		"code":        code,
		"description": description,
	}
}

// EncodeOnStatus builds a complete onStatus command payload: command name,
// transaction id (always 0 for onStatus), a null command object, and the
// info object.
func EncodeOnStatus(level, code, description string) ([]byte, error) {
	return EncodeAll("onStatus", float64(0), nil, StatusObject(level, code, description))
}
