package auth

import (
	"errors"

	"github.com/google/uuid"

	"github.com/medloop/telecall/internal/appointment"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the authenticated principal attached to every request and
// signaling connection. The coordinator trusts it completely; credential
// verification happens here and nowhere else.
type Identity struct {
	ID   uuid.UUID
	Role appointment.Role
}

type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// StaticAuthenticator maps fixed tokens to identities. Used in tests and
// local development where minting signed tokens is overkill.
type StaticAuthenticator map[string]Identity

func (s StaticAuthenticator) Authenticate(token string) (Identity, error) {
	id, ok := s[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
