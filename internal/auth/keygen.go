package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateKey produces a new high-entropy API key token: 32 random bytes,
// URL-safe base64 without padding.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
