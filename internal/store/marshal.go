package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one stored row of a sheet.
type Row struct {
	ID  int64
	Seq int64

	// Values holds the decoded payload. Numbers decode as json.Number and
	// dates as strings; callers re-apply the table schema.
	Values map[string]any
}

// encodePayload converts row values to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches the input byte for byte.
func encodePayload(values map[string]any) (string, error) {
	if values == nil {
		return "{}", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(values); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// decodePayload parses stored JSON TEXT. Numbers are kept as json.Number to
// avoid float64 precision loss on large integers.
func decodePayload(data string) (map[string]any, error) {
	values := make(map[string]any)
	if data == "" || data == "{}" {
		return values, nil
	}

	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return values, nil
}
