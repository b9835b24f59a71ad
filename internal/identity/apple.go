// apple.go -- Sign in with Apple identity token verification.
package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	AppleIssuer  = "https://appleid.apple.com"
	AppleKeysURL = "https://appleid.apple.com/auth/keys"
)

// AppleVerifier verifies identity tokens minted by Sign in with Apple.
// The remote key set is fetched lazily on first use and cached by go-oidc,
// which refreshes it when a token carries an unknown key id.
type AppleVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*AppleVerifier)(nil)

// NewAppleVerifier creates a verifier for tokens whose audience is clientID
// (the app's bundle identifier). No network call is made until the first Verify.
func NewAppleVerifier(ctx context.Context, clientID string) *AppleVerifier {
	return NewAppleVerifierWithKeySet(oidc.NewRemoteKeySet(ctx, AppleKeysURL), clientID)
}

// NewAppleVerifierWithKeySet is NewAppleVerifier with an explicit key source.
func NewAppleVerifierWithKeySet(keys oidc.KeySet, clientID string) *AppleVerifier {
	return &AppleVerifier{
		verifier: oidc.NewVerifier(AppleIssuer, keys, &oidc.Config{
			ClientID:             clientID,
			SupportedSigningAlgs: []string{oidc.RS256},
		}),
	}
}

// Name returns "apple".
func (v *AppleVerifier) Name() string { return "apple" }

// Verify checks signature, issuer, audience and expiry, then extracts sub and email.
func (v *AppleVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, NormalizeToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: extracting claims: %v", ErrInvalidToken, err)
	}
	if c.Sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return &Claims{Sub: c.Sub, Email: c.Email}, nil
}
