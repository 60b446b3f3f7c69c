package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager("secret", "dm-service", time.Hour)
	require.NoError(t, err)

	token, err := m.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Identity())
	assert.Equal(t, "alice", claims.Username)
}

func TestManager_RejectsForeignSecret(t *testing.T) {
	m, _ := NewManager("secret", "dm-service", time.Hour)
	other, _ := NewManager("other", "dm-service", time.Hour)

	token, err := other.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Expired(t *testing.T) {
	m, _ := NewManager("secret", "dm-service", -time.Minute)
	token, err := m.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_LegacyIDClaim(t *testing.T) {
	m, _ := NewManager("secret", "dm-service", time.Hour)
	legacy := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{"id": "mongo-id"})
	token, err := legacy.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "mongo-id", claims.Identity())
}

func TestNewManager_EmptySecret(t *testing.T) {
	_, err := NewManager("", "dm-service", time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)
}
