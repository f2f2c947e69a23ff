// Package payloadcodec implements the payload serialization boundary: every
// envelope payload that crosses a TxStore is encoded to and decoded from a
// single canonical text representation, regardless of which configured
// PayloadFormat the caller asked for.
package payloadcodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// Marshal encodes v to its canonical text form.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// EncodePayload serializes an opaque envelope payload into the string form
// persisted by a TxStore. Both recognized PayloadFormats resolve to this same
// canonical JSON encoding; the format only affects when a caller expects
// decoding to happen.
func EncodePayload(payload any) (string, error) {
	data, err := Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodePayload reverses EncodePayload, reconstructing the payload as a
// generic value tree (maps/slices/scalars).
func DecodePayload(text string) (any, error) {
	var v any
	if err := Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}
