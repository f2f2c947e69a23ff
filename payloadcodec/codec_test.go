package payloadcodec

import (
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "evbus"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	original := map[string]any{"data": float64(42), "ok": true}

	text, err := EncodePayload(original)
	if err != nil {
		t.Fatalf("encode payload failed: %v", err)
	}

	decoded, err := DecodePayload(text)
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}

	decodedMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded map, got %T", decoded)
	}
	if decodedMap["data"] != float64(42) || decodedMap["ok"] != true {
		t.Fatalf("expected round trip to preserve fields, got %#v", decodedMap)
	}
}
