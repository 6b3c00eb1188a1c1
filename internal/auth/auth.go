// Package auth is the boundary to the identity collaborator. The server
// never verifies credentials itself beyond a shared key; it only insists
// that every actor arrives with a verified identity.
package auth

import (
	"github.com/chatwire/chatwire/internal/domain"
)

// Verifier resolves a caller's verified identity. Absence of a verified
// actor is a NotAuthenticated failure, not an exception.
type Verifier interface {
	Verify(apiKey string, profile domain.Profile) (domain.Identity, error)
}

// StaticVerifier accepts any declared profile carrying the configured
// shared key. An empty configured key disables the key check (local
// development).
type StaticVerifier struct {
	apiKey string
}

// NewStaticVerifier creates a verifier with the given shared key.
func NewStaticVerifier(apiKey string) *StaticVerifier {
	return &StaticVerifier{apiKey: apiKey}
}

// Verify checks the shared key and requires a user id.
func (v *StaticVerifier) Verify(apiKey string, profile domain.Profile) (domain.Identity, error) {
	if v.apiKey != "" && apiKey != v.apiKey {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	if profile.ID == "" {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	return domain.Identity{UserID: profile.ID, Profile: profile}, nil
}
