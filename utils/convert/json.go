package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToJSON serializes any object to JSON string
func ToJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	return string(data), nil
}

// ToJSONMap serializes any object to map[string]any
func ToJSONMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}

	var result map[string]any
	if err := Remarshal(v, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Remarshal copies src into dst through a JSON round trip.
// Used to move between loosely typed request maps and SDK structs.
func Remarshal(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", src, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to unmarshal into %T: %w", dst, err)
	}
	return nil
}

// DecodeJSON decodes data keeping numbers as json.Number
func DecodeJSON(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	return nil
}
