package commsutil

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// MaxPayloadBytes bounds an encoded message; the default NATS max_payload is 1MB.
const MaxPayloadBytes = 1 << 20

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode: %w", codecLogPrefix, err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("%s - payload of %d bytes exceeds %d", codecLogPrefix, len(data), MaxPayloadBytes)
	}
	return data, nil
}

// DecodePayload deserializes JSON bytes into a new T.
func DecodePayload[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%s - decode: %w", codecLogPrefix, err)
	}
	return &v, nil
}
