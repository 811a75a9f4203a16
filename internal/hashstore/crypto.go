package hashstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// CipherSuite names the symmetric scheme used for payloads at rest.
const CipherSuite = "aes-256-gcm"

// EncryptPayload seals raw bytes under keyMaterial for callers that persist
// ciphertext in their own tables (the master card row does this).
func EncryptPayload(plaintext, keyMaterial []byte) (string, error) {
	return encrypt(plaintext, keyMaterial)
}

// DecryptPayload is the inverse of EncryptPayload.
func DecryptPayload(encryptedB64 string, keyMaterial []byte) ([]byte, error) {
	return decrypt(encryptedB64, keyMaterial)
}

// deriveKey turns caller-supplied key material into an AES-256 key. The
// material is opaque to this package; the same material always derives the
// same key, so retrieval only needs what store was given.
func deriveKey(keyMaterial []byte) []byte {
	sum := sha256.Sum256(keyMaterial)
	return sum[:]
}

// encrypt seals plaintext with AES-GCM under a key derived from keyMaterial.
// Output is nonce || ciphertext, base64 encoded.
func encrypt(plaintext, keyMaterial []byte) (string, error) {
	block, err := aes.NewCipher(deriveKey(keyMaterial))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt is the inverse of encrypt. Authentication failure (tampering or
// wrong key material) surfaces as an error.
func decrypt(encryptedB64 string, keyMaterial []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}
