// Package jwt verifies the tokens minted by the external authenticator.
package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const defaultSecret = "chainpass-secret-change-me"

// Claims is the verified payload attached by the external authenticator:
// a user id plus the role claim consumed by identity.Resolver.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwtlib.RegisteredClaims
}

// Verifier signs and parses HS256 tokens with one shared secret. Construct
// it once at startup and inject it wherever tokens are handled.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given secret. An empty secret
// falls back to the built-in development default.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		secret = defaultSecret
	}
	return &Verifier{secret: []byte(secret)}
}

// Sign creates a signed JWT for the given user. Used by tests and by
// deployments that run the authenticator in-process.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Parse validates a token string and returns the claims. Only HS256 is
// accepted; expiry is enforced by the library.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims,
		func(*jwtlib.Token) (interface{}, error) { return v.secret, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
