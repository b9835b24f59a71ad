// session.go

// Session token generation and encoding.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// TokenBytes is the raw session token size.
const TokenBytes = 32

var errMalformedToken = errors.New("malformed session token")

// GenerateToken returns 256-bit random session token and its SHA-256 hash.
// Token goes to the client; hash goes in storage.
func GenerateToken() (*[TokenBytes]byte, *[32]byte, error) {
	var token [TokenBytes]byte
	_, err := rand.Read(token[:])
	if err != nil {
		return nil, nil, fmt.Errorf("generating token with rand: %w", err)
	}
	hash := sha256.Sum256(token[:])
	return &token, &hash, nil
}

// EncodeToken renders the raw token as unpadded base64url for the client.
func EncodeToken(token *[TokenBytes]byte) string {
	return base64.RawURLEncoding.EncodeToString(token[:])
}

// HashToken decodes a client-presented token and returns its SHA-256 hash.
// Anything that is not exactly TokenBytes of unpadded base64url is rejected.
func HashToken(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) != TokenBytes {
		return nil, errMalformedToken
	}
	hash := sha256.Sum256(raw)
	return hash[:], nil
}

// CacheKey is the Redis key suffix for a token hash.
func CacheKey(tokenHash []byte) string {
	return base64.RawURLEncoding.EncodeToString(tokenHash)
}
