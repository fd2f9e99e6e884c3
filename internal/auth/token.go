package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medloop/telecall/internal/appointment"
)

const maxTokenLen = 4 * 1024

// TokenAuthenticator verifies HMAC-SHA256 signed bearer tokens of the form
// base64url(payload).base64url(signature), with an expiry claim. The signing
// side lives in the surrounding application; Mint exists for tooling and
// tests.
type TokenAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewTokenAuthenticator(secret string) *TokenAuthenticator {
	return &TokenAuthenticator{
		secret: []byte(secret),
		now:    time.Now,
	}
}

type tokenPayload struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Exp  int64  `json:"exp"`
}

func (a *TokenAuthenticator) Mint(id uuid.UUID, role appointment.Role, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(tokenPayload{
		Sub:  id.String(),
		Role: string(role),
		Exp:  a.now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	return payloadB64 + "." + a.sign(payloadB64), nil
}

func (a *TokenAuthenticator) Authenticate(token string) (Identity, error) {
	if len(token) == 0 || len(token) > maxTokenLen {
		return Identity{}, ErrInvalidToken
	}

	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	if !hmac.Equal([]byte(a.sign(payloadB64)), []byte(sigB64)) {
		return Identity{}, ErrInvalidToken
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	var payload tokenPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return Identity{}, ErrInvalidToken
	}

	if payload.Exp <= a.now().Unix() {
		return Identity{}, ErrInvalidToken
	}

	sub, err := uuid.Parse(payload.Sub)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	role := appointment.Role(payload.Role)
	if role != appointment.RolePatient && role != appointment.RoleClinician {
		return Identity{}, ErrInvalidToken
	}

	return Identity{ID: sub, Role: role}, nil
}

func (a *TokenAuthenticator) sign(payloadB64 string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
