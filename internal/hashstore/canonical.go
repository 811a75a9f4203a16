package hashstore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes a payload with stable key ordering and compact
// separators so identical payloads always hash identically. encoding/json
// sorts map keys and emits no insignificant whitespace, which matches the
// canonical form the credential references were minted against.
func Canonicalize(payload map[string]any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return b, nil
}

// ContentHash computes the canonical content hash of a payload: SHA-256 over
// the canonical bytes, base64 encoded. This is the value bound into
// credential attributes in place of the data itself.
func ContentHash(payload map[string]any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
