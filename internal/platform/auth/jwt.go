package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims accepted from an external issuer.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"preferred_username,omitempty"`
	Role     string `json:"role"`
}

// JWTResolver verifies HS256 bearer tokens signed with a shared secret.
type JWTResolver struct {
	SigningKey []byte
	Issuer     string
	Audience   string
}

func (r *JWTResolver) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if r.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.Issuer))
	}
	if r.Audience != "" {
		opts = append(opts, jwt.WithAudience(r.Audience))
	}
	return opts
}

// Resolve verifies tokenStr and maps its claims to a principal.
func (r *JWTResolver) Resolve(tokenStr string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return r.SigningKey, nil
	}, r.parserOptions()...)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", ErrUnauthenticated)
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("%v: %w", err, ErrUnauthenticated)
	}
	return Principal{UserID: claims.Subject, Username: claims.Username, Role: role}, nil
}

// Issue signs a token for p that expires after ttl.
func (r *JWTResolver) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    r.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: p.Username,
		Role:     string(p.Role),
	}
	if r.Audience != "" {
		claims.Audience = jwt.ClaimStrings{r.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.SigningKey)
}
