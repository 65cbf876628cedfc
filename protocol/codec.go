package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses a single frame. Numbers are kept as json.Number so ids are
// echoed back exactly as received.
func Decode(raw []byte) (Hash, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var h Hash
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("decode error: frame is not an object")
	}
	return h, nil
}

// Encode serializes a frame.
func Encode(h Hash) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode error: %w", err)
	}
	return data, nil
}
