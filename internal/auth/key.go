// Package auth handles workspace manage keys: generation, hashing, and
// extraction from incoming requests. The key is the only credential in the
// system; whoever presents it manages the workspace.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// GenerateKey returns a fresh manage key. The "dh_" prefix makes keys
// recognizable in logs and support tickets without revealing anything.
func GenerateKey() string {
	bytes := make([]byte, 24)
	_, _ = rand.Read(bytes)
	return "dh_" + hex.EncodeToString(bytes)
}

// HashKey produces the storable bcrypt hash of a manage key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyKey reports whether key matches the stored hash.
func VerifyKey(key, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(key)) == nil
}

// KeyFromRequest extracts a manage key from, in order: the Authorization
// Bearer header, the X-API-Key header, or the ?key= query parameter.
// Returns "" when none is present.
func KeyFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("key"))
}
