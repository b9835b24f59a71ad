// provider.go -- identity verifier interface and shared types.
package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidToken wraps every verification failure: bad signature, wrong issuer or
// audience, expiry, malformed input, or a missing subject.
var ErrInvalidToken = errors.New("invalid identity token")

// Claims holds the verified identity extracted from a provider token.
type Claims struct {
	Sub   string // provider-specific stable user ID
	Email string // empty when the provider withheld it
}

// Verifier checks an identity token issued to a native client.
type Verifier interface {
	// Name returns the provider identifier stored alongside the subject.
	Name() string

	// Verify validates the token and returns its claims.
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// NormalizeToken accepts either a compact JWT or a base64-encoded one, as some clients
// send the raw token bytes encoded. The decoded form is used only if it looks like a JWT.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(token); err == nil && strings.Count(string(b), ".") == 2 {
			return string(b)
		}
	}
	return token
}
