// Package auth implements API-key issuance and validation for the HTTP
// surface's Authorization: Bearer middleware.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// KeyParts are the components of an API key.
type KeyParts struct {
	KeyType    string // "sk" (secret key) or "pk" (public key)
	Service    string // "recon"
	Version    string // "v1"
	ShortToken string // 12 hex chars, indexed lookup
	LongSecret string // 43-char base64 secret, never stored in plain
	FullKey    string
}

// GenerateKey creates a new API key: {keyType}-{service}-{version}-{shortToken}-{longSecret}.
func GenerateKey(keyType, service, version string) (*KeyParts, error) {
	longBytes := make([]byte, 32)
	if _, err := rand.Read(longBytes); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	longSecret := base64.RawURLEncoding.EncodeToString(longBytes)

	hash := blake2b.Sum256([]byte(longSecret))
	shortToken := hex.EncodeToString(hash[:6])

	fullKey := fmt.Sprintf("%s-%s-%s-%s-%s", keyType, service, version, shortToken, longSecret)

	return &KeyParts{
		KeyType:    keyType,
		Service:    service,
		Version:    version,
		ShortToken: shortToken,
		LongSecret: longSecret,
		FullKey:    fullKey,
	}, nil
}

// ParseKey splits a key string into its components. The long secret is
// base64.RawURLEncoding, which can itself contain '-', so the split is
// bounded to the first four hyphens rather than every hyphen in the string.
func ParseKey(apiKey string) (*KeyParts, error) {
	parts := strings.SplitN(apiKey, "-", 5)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid API key format: expected 5 parts, got %d", len(parts))
	}
	return &KeyParts{
		KeyType:    parts[0],
		Service:    parts[1],
		Version:    parts[2],
		ShortToken: parts[3],
		LongSecret: parts[4],
		FullKey:    apiKey,
	}, nil
}

// Display returns a safe-to-log version of the key.
func (k *KeyParts) Display() string {
	return fmt.Sprintf("%s-%s-%s-%s-****", k.KeyType, k.Service, k.Version, k.ShortToken)
}

// hashSecret hashes the long secret with BLAKE2b-256, hex-encoded.
func hashSecret(secret string) string {
	hash := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

func maskKey(apiKey string) string {
	parts := strings.Split(apiKey, "-")
	if len(parts) >= 1 {
		return parts[0] + "-***"
	}
	return "***"
}
