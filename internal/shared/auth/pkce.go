package auth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// GenerateVerifier returns a PKCE code verifier: 32 random bytes, base64url
// without padding (43 characters).
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateChallenge derives the S256 code challenge for a verifier.
func GenerateChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns an unguessable value for the OAuth state and nonce
// parameters.
func GenerateState() string {
	b := make([]byte, 32)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
