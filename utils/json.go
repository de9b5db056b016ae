package utils

import (
	"bytes"
	"encoding/json"
	"errors"
)

// DecodeSingleJSON decodes exactly one JSON value; trailing data is an error.
func DecodeSingleJSON[T any](data []byte, output *T) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(output); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
