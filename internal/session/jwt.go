package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/careview-api/internal/model"
)

// TokenClaims are the claims the session layer reads off an access
// token. Token issuance belongs to the identity service; only subject
// and role matter here.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenParser validates access tokens and extracts the caller identity.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

// Parse validates the token signature and expiry and returns the
// embedded identity.
func (p *TokenParser) Parse(token string) (Identity, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	role := model.Role(claims.Role)
	if !role.Valid() {
		return Identity{}, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}
