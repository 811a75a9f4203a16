package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	keySize   = 32
	nonceSize = 24
)

// generateKeyPair mints a fresh X25519 keypair, base64 encoded.
func generateKeyPair() (publicB64, privateB64 string, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub[:]), base64.StdEncoding.EncodeToString(priv[:]), nil
}

// encryptFor seals plaintext from the sender to the recipient. Output layout
// is nonce || box, base64 encoded. Authenticated: flipping any ciphertext
// byte makes decryptFrom fail.
func encryptFor(plaintext []byte, senderPrivateB64, recipientPublicB64 string) (string, error) {
	senderPriv, err := decodeKey(senderPrivateB64)
	if err != nil {
		return "", fmt.Errorf("sender private key: %w", err)
	}
	recipientPub, err := decodeKey(recipientPublicB64)
	if err != nil {
		return "", fmt.Errorf("recipient public key: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, recipientPub, senderPriv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptFrom is the inverse of encryptFor.
func decryptFrom(ciphertextB64, recipientPrivateB64, senderPublicB64 string) ([]byte, error) {
	recipientPriv, err := decodeKey(recipientPrivateB64)
	if err != nil {
		return nil, fmt.Errorf("recipient private key: %w", err)
	}
	senderPub, err := decodeKey(senderPublicB64)
	if err != nil {
		return nil, fmt.Errorf("sender public key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := box.Open(nil, raw[nonceSize:], &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, fmt.Errorf("open box: authentication failed")
	}
	return plaintext, nil
}

// seal encrypts to the recipient with a single-use sender keypair, prefixing
// the ephemeral public key so the recipient alone can open it. Layout is
// ephemeralPub || nonce || box, base64 encoded. This is how context cards are
// sealed server-side on approval: the employee's private key never reaches
// this system, so the sender side is always ephemeral.
func seal(plaintext []byte, recipientPublicB64 string) (string, error) {
	recipientPub, err := decodeKey(recipientPublicB64)
	if err != nil {
		return "", fmt.Errorf("recipient public key: %w", err)
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ephemeral keypair: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, keySize+nonceSize+len(plaintext)+box.Overhead)
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, plaintext, &nonce, recipientPub, ephPriv)
	return base64.StdEncoding.EncodeToString(out), nil
}

// open is the inverse of seal.
func open(ciphertextB64, recipientPrivateB64 string) ([]byte, error) {
	recipientPriv, err := decodeKey(recipientPrivateB64)
	if err != nil {
		return nil, fmt.Errorf("recipient private key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < keySize+nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	var ephPub [keySize]byte
	copy(ephPub[:], raw[:keySize])
	var nonce [nonceSize]byte
	copy(nonce[:], raw[keySize:keySize+nonceSize])

	plaintext, ok := box.Open(nil, raw[keySize+nonceSize:], &nonce, &ephPub, recipientPriv)
	if !ok {
		return nil, fmt.Errorf("open box: authentication failed")
	}
	return plaintext, nil
}

func decodeKey(b64 string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
