package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

// --- GenerateToken ---

func TestGenerateToken(t *testing.T) {
	t.Run("returns token and hash without error", func(t *testing.T) {
		token, hash, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken returned error: %v", err)
		}
		if token == nil {
			t.Fatal("token should not be nil")
		}
		if hash == nil {
			t.Fatal("hash should not be nil")
		}
	})

	t.Run("hash matches SHA-256 of token", func(t *testing.T) {
		token, hash, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken returned error: %v", err)
		}

		expected := sha256.Sum256(token[:])
		if *hash != expected {
			t.Error("hash does not match SHA-256 of token")
		}
	})

	t.Run("tokens are unique", func(t *testing.T) {
		a, _, _ := GenerateToken()
		b, _, _ := GenerateToken()
		if *a == *b {
			t.Error("two generated tokens should differ")
		}
	})
}

// --- EncodeToken / HashToken ---

func TestHashToken(t *testing.T) {
	t.Run("round trips with EncodeToken", func(t *testing.T) {
		token, hash, _ := GenerateToken()
		encoded := EncodeToken(token)
		if len(encoded) != 43 {
			t.Errorf("encoded length: expected 43, got %d", len(encoded))
		}
		got, err := HashToken(encoded)
		if err != nil {
			t.Fatalf("HashToken: %v", err)
		}
		if string(got) != string(hash[:]) {
			t.Error("hash of decoded token does not match")
		}
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		short := base64.RawURLEncoding.EncodeToString(make([]byte, 16))
		padded := base64.URLEncoding.EncodeToString(make([]byte, 32))
		for _, in := range []string{"", "not base64!", short, padded} {
			if _, err := HashToken(in); err == nil {
				t.Errorf("HashToken(%q): expected error", in)
			}
		}
	})
}
