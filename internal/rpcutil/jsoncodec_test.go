package rpcutil

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

type sample struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	in := sample{Name: "room-a", N: 7}

	data, err := c.Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out sample
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestJSONCodecUnmarshalError(t *testing.T) {
	c := jsonCodec{}
	var out sample
	if err := c.Unmarshal([]byte("not json"), &out); err == nil {
		t.Fatal("expected an error unmarshaling invalid JSON")
	}
}

func TestRegisterJSONCodecIsIdempotentAndGlobal(t *testing.T) {
	RegisterJSONCodec()
	RegisterJSONCodec()
	if encoding.GetCodec(JSONCodecName) == nil {
		t.Fatal("expected the json codec to be registered globally")
	}
}
