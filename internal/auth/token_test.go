package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medloop/telecall/internal/appointment"
)

func TestMintAuthenticateRoundTrip(t *testing.T) {
	gate := NewTokenAuthenticator("test-secret")
	id := uuid.New()

	token, err := gate.Mint(id, appointment.RoleClinician, time.Hour)
	require.NoError(t, err)

	ident, err := gate.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, id, ident.ID)
	assert.Equal(t, appointment.RoleClinician, ident.Role)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	gate := NewTokenAuthenticator("test-secret")

	token, err := gate.Mint(uuid.New(), appointment.RolePatient, time.Minute)
	require.NoError(t, err)

	gate.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = gate.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsTamperedPayload(t *testing.T) {
	gate := NewTokenAuthenticator("test-secret")
	id := uuid.New()

	token, err := gate.Mint(id, appointment.RolePatient, time.Hour)
	require.NoError(t, err)

	payloadB64, sigB64, ok := strings.Cut(token, ".")
	require.True(t, ok)

	// Re-encode the payload claiming the clinician role, keep the old signature.
	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	require.NoError(t, err)
	forged := strings.Replace(string(payload), string(appointment.RolePatient), string(appointment.RoleClinician), 1)
	forgedToken := base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + sigB64

	_, err = gate.Authenticate(forgedToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	minter := NewTokenAuthenticator("secret-a")
	verifier := NewTokenAuthenticator("secret-b")

	token, err := minter.Mint(uuid.New(), appointment.RoleClinician, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	gate := NewTokenAuthenticator("test-secret")

	for _, token := range []string{
		"",
		"no-dot-here",
		"a.b",
		"!!!.###",
		strings.Repeat("x", maxTokenLen+1),
	} {
		_, err := gate.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	gate := NewTokenAuthenticator("test-secret")

	token, err := gate.Mint(uuid.New(), appointment.Role("admin"), time.Hour)
	require.NoError(t, err)

	_, err = gate.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticAuthenticator(t *testing.T) {
	id := uuid.New()
	gate := StaticAuthenticator{"tok-1": {ID: id, Role: appointment.RolePatient}}

	ident, err := gate.Authenticate("tok-1")
	require.NoError(t, err)
	assert.Equal(t, id, ident.ID)

	_, err = gate.Authenticate("tok-2")
	require.ErrorIs(t, err, ErrInvalidToken)
}
