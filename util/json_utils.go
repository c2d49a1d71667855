package util

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONConfig provides centralized JSON configuration for consistent serialization behavior
type JSONConfig struct {
	// DisallowUnknownFields controls whether unknown fields should be rejected
	DisallowUnknownFields bool
	// UseNumber controls whether numbers should be decoded as json.Number
	UseNumber bool
}

// DefaultConfig returns the default JSON configuration
func DefaultConfig() *JSONConfig {
	return &JSONConfig{
		DisallowUnknownFields: false, // The backend adds fields without notice
		UseNumber:             false,
	}
}

// Decode decodes a single JSON document from data using the specified configuration.
// Trailing data after the document is an error.
func Decode(data []byte, v interface{}, config *JSONConfig) error {
	if config == nil {
		config = DefaultConfig()
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	if config.DisallowUnknownFields {
		decoder.DisallowUnknownFields()
	}
	if config.UseNumber {
		decoder.UseNumber()
	}

	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected data after JSON document")
	}
	return nil
}

// Encode encodes data to JSON
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
