package auth

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

var ErrAuthDisabled = errors.New("HTTP_AUTH_JWT_SECRET not configured")

type SessionTokenClaims struct {
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a token for userID. A zero ttl means no expiry.
func GenerateSessionToken(userID string, ttl time.Duration) (string, time.Time, error) {
	if JWTSecretKey == "" {
		return "", time.Time{}, ErrAuthDisabled
	}

	now := time.Now()
	claims := SessionTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(JWTSecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func ValidateSessionToken(tokenString string) (*SessionTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, ErrAuthDisabled
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionTokenClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
