// Package groups resolves the group a reaction belongs to, either by local
// lookup or by running the group receive steps for network deliveries.
package groups

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyLen is the length of a group master key.
const MasterKeyLen = 32

const groupIDInfo = "signal-reactions group identifier v1"

// ID derives the stable hex group identifier from a master key. Every
// device holding the master key derives the same identifier.
func ID(masterKey []byte) (string, error) {
	if len(masterKey) != MasterKeyLen {
		return "", fmt.Errorf("groups: invalid master key length: %d", len(masterKey))
	}
	r := hkdf.New(sha256.New, masterKey, nil, []byte(groupIDInfo))
	id := make([]byte, 32)
	if _, err := io.ReadFull(r, id); err != nil {
		return "", fmt.Errorf("groups: derive id: %w", err)
	}
	return hex.EncodeToString(id), nil
}
