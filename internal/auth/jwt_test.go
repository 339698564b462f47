package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
)

func signToken(t *testing.T, secret, userID string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerify(t *testing.T) {
	v := NewJWTVerifier("sekrit")

	userID, err := v.Verify(signToken(t, "sekrit", "alice", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejections(t *testing.T) {
	v := NewJWTVerifier("sekrit")

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": signToken(t, "other", "alice", time.Now().Add(time.Hour)),
		"expired":      signToken(t, "sekrit", "alice", time.Now().Add(-time.Hour)),
		"no user id":   signToken(t, "sekrit", "", time.Now().Add(time.Hour)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, apperrors.ErrAuthentication)
		})
	}
}

func TestParseBearerToken(t *testing.T) {
	token, err := ParseBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	token, err = ParseBearerToken("bearer lowercase-ok")
	require.NoError(t, err)
	assert.Equal(t, "lowercase-ok", token)

	for _, header := range []string{"", "abc.def.ghi", "Basic abc"} {
		_, err := ParseBearerToken(header)
		assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	}
}
