// Package rpcutil provides the plumbing cross-node gRPC clients share: a
// JSON message codec (so the cluster/relay request and response types can
// be plain Go structs instead of protoc-generated messages, since codegen
// tooling is out of this build's scope). Circuit breaking is not in this
// package; each client wires its own gobreaker instance.
package rpcutil

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const JSONCodecName = "json"

// jsonCodec implements encoding.Codec by marshaling gRPC messages as JSON
// instead of protobuf wire format. Registered once via RegisterJSONCodec;
// callers select it per-call with grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcutil: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcutil: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return JSONCodecName }

// RegisterJSONCodec registers the JSON codec with grpc's global codec
// registry. Safe to call multiple times; idempotent.
func RegisterJSONCodec() {
	encoding.RegisterCodec(jsonCodec{})
}

func init() {
	RegisterJSONCodec()
}
