package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "settlement-api")
	actor := uuid.New()

	token, err := svc.GenerateAccessToken(actor, RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	id, err := claims.ActorID()
	require.NoError(t, err)
	assert.Equal(t, actor, id)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "settlement-api")

	expired, err := svc.GenerateAccessToken(uuid.New(), RoleDoctor, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewJWTService("other", "settlement-api").GenerateAccessToken(uuid.New(), RoleDoctor, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewJWTService("secret", "someone-else").GenerateAccessToken(uuid.New(), RoleDoctor, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
