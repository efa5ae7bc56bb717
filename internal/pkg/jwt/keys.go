package jwt

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinKeyBytes is the shortest signing key material accepted.
	MinKeyBytes = 32
	// KeyBytes is the size of the key actually used for HS512.
	KeyBytes = 64

	keyDerivationInfo = "timeclock-session-credentials"
)

// SigningKey owns the long-lived symmetric key used for session credentials.
type SigningKey struct {
	key []byte
}

// NewSigningKey builds a key holder from raw material. Material shorter than
// KeyBytes is expanded with HKDF-SHA512.
func NewSigningKey(material []byte) (*SigningKey, error) {
	if len(material) < MinKeyBytes {
		return nil, fmt.Errorf("signing key too short: %d bytes, need at least %d", len(material), MinKeyBytes)
	}
	if len(material) >= KeyBytes {
		k := make([]byte, len(material))
		copy(k, material)
		return &SigningKey{key: k}, nil
	}

	k := make([]byte, KeyBytes)
	r := hkdf.New(sha512.New, material, nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return &SigningKey{key: k}, nil
}

// GenerateSigningKey returns a fresh random key holder.
func GenerateSigningKey() (*SigningKey, error) {
	b := make([]byte, KeyBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &SigningKey{key: b}, nil
}

// LoadSigningKeyFromBase64 decodes key material in std or URL base64, padded or not.
func LoadSigningKeyFromBase64(encoded string) (*SigningKey, error) {
	material, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key encoding: %w", err)
	}
	return NewSigningKey(material)
}

// LoadSigningKeyFromFile reads base64 key material from path.
func LoadSigningKeyFromFile(path string) (*SigningKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return LoadSigningKeyFromBase64(string(b))
}

func (k *SigningKey) bytes() []byte {
	return k.key
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
