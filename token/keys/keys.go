package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the length in bytes of a token file encryption key.
const Size = 32

// Key encrypts the persisted token pair (NaCl secretbox).
type Key [Size]byte

// Generate returns a new random key.
func Generate() (*Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &k, nil
}

// ParseHex decodes a hex encoded key, ignoring surrounding whitespace.
func ParseHex(s string) (*Key, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(raw) != Size {
		return nil, fmt.Errorf("invalid key length: want %d bytes, got %d", Size, len(raw))
	}
	var k Key
	copy(k[:], raw)
	return &k, nil
}

// Hex encodes the key for HRADMIN_TOKEN_KEY.
func (k *Key) Hex() string {
	return hex.EncodeToString(k[:])
}

func (k *Key) Bytes() []byte {
	return k[:]
}
