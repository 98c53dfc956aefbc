package main

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// hexBytes is a flag value given as hex, with optional whitespace.
type hexBytes []byte

func (h *hexBytes) UnmarshalFlag(val string) error {
	b, err := decodeHex(val)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

func (h hexBytes) MarshalFlag() (string, error) {
	return hex.EncodeToString(h), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
