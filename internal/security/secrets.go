// Package security handles provider secrets and the local API token.
// The API and the logs only ever see a mask and a fingerprint of a secret.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mask hides all but the last four characters of secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 4) + secret[len(secret)-4:]
}

// Fingerprint returns a short stable identifier for secret, or "" for an empty one.
// Two workers sharing a key have the same fingerprint.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}

// ─── API Token ──────────────────────────────────────────────────────────────

// GenerateToken creates a random 32-byte hex token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenPath returns where the API token of home is stored.
func TokenPath(home string) string {
	return filepath.Join(home, "keys", "api.token")
}

// LoadToken reads the API token of home.
func LoadToken(home string) (string, error) {
	b, err := os.ReadFile(TokenPath(home))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// LoadOrCreateToken loads the API token, generating it on first run.
// Tokens are stored in home/keys/ with 0600 permissions.
func LoadOrCreateToken(home string) (string, error) {
	if tok, err := LoadToken(home); err == nil && tok != "" {
		return tok, nil
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read token: %w", err)
	}

	tok, err := GenerateToken()
	if err != nil {
		return "", err
	}
	path := TokenPath(home)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tok), 0600); err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	return tok, nil
}

// TokenEqual compares two tokens in constant time.
func TokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
