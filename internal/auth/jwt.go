package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
)

// TokenVerifier resolves an auth token to a user id. The gatekeeper depends
// on this interface; token issuance lives elsewhere.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens.
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("%w: token missing", apperrors.ErrAuthentication)
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(v.secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrAuthentication, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: invalid claims", apperrors.ErrAuthentication)
	}
	return claims.UserID, nil
}

// ParseBearerToken splits an Authorization header into its token part.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: authorization header empty", apperrors.ErrAuthentication)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", apperrors.ErrAuthentication)
	}
	return parts[1], nil
}
