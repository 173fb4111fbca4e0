package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
)

// DefaultTokenTTL applies when auth.token_ttl is not set.
const DefaultTokenTTL = 24 * time.Hour

// IssueToken signs an HS256 token for userID that the Authenticator built
// from the same settings accepts.
func IssueToken(settings *conf.AuthSettings, userID string, now time.Time) (string, error) {
	if userID == "" {
		return "", errors.Newf("user id is required").
			Component("auth").
			Category(errors.CategoryValidation).
			Build()
	}
	if settings.JWTSecret == "" {
		return "", errors.Newf("auth.jwt_secret must be set").
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}
	ttl := settings.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    settings.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  jwt.ClaimStrings{settings.Audience},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(settings.JWTSecret))
	if err != nil {
		return "", errors.New(err).
			Component("auth").
			Category(errors.CategoryAuth).
			Context("operation", "sign_token").
			Build()
	}
	return signed, nil
}
