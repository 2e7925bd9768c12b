package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "covault/identity"
	tokenAudience = "covault.console"
)

// Claims are the JWT claims carried by console bearer tokens. The
// subject is the principal's member address.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Principal converts verified claims into the request principal.
func (c *Claims) Principal() Principal {
	return Principal{Addr: c.Subject, Roles: c.Roles}
}

// Issuer mints bearer tokens for operator principals.
type Issuer struct {
	keys KeySet
}

// NewIssuer creates an issuer over the key set.
func NewIssuer(ks KeySet) *Issuer {
	return &Issuer{keys: ks}
}

// Issue signs a token for the principal, valid for ttl.
func (i *Issuer) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.Addr == "" {
		return "", fmt.Errorf("principal address must not be empty")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   p.Addr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
		Roles: p.Roles,
	}
	return i.keys.Sign(context.Background(), claims)
}

// Verifier validates bearer tokens against the key set.
type Verifier struct {
	keys KeySet
}

// NewVerifier creates a verifier over the key set.
func NewVerifier(ks KeySet) *Verifier {
	if ks == nil {
		return nil
	}
	return &Verifier{keys: ks}
}

// Verify parses and validates a token string, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if v == nil || v.keys == nil {
		return nil, fmt.Errorf("verifier uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keys.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	return claims, nil
}
