package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/sync-service/internal/errs"
)

type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

// Validate checks the token and returns the subject user id.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if claims, ok := tok.Claims.(jwt.MapClaims); ok && tok.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		if userID, ok := claims["user_id"].(string); ok && userID != "" {
			return userID, nil
		}
	}
	return "", errs.ErrUnauthorized
}
