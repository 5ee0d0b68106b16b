package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrPermission      = errors.New("permission denied")
)

// DefaultSessionTTL applies when a Gate is built with a zero TTL.
const DefaultSessionTTL = 12 * time.Hour

// Principal is who a request acts as.
type Principal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Gate resolves tokens into principals. Opaque tokens are looked up in the
// session store; when a JWT resolver is configured, tokens shaped like a JWT
// are verified against it instead.
type Gate struct {
	sessions SessionStore
	jwt      *JWTResolver
	ttl      time.Duration
	now      func() time.Time
}

func NewGate(sessions SessionStore, jwt *JWTResolver, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Gate{sessions: sessions, jwt: jwt, ttl: ttl, now: time.Now}
}

// CurrentRole resolves a token to its principal. An empty token is a Guest.
func (g *Gate) CurrentRole(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{Role: RoleGuest}, nil
	}
	if g.jwt != nil && strings.Count(token, ".") == 2 {
		return g.jwt.Resolve(token)
	}
	sess, err := g.sessions.Get(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	return sess.Principal(), nil
}

// Open starts a session for p and returns it with its token.
func (g *Gate) Open(ctx context.Context, p Principal) (*Session, error) {
	if !p.Role.Assignable() {
		return nil, fmt.Errorf("%w: role %q cannot log in", ErrPermission, p.Role)
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	sess := &Session{
		Token:     token,
		UserID:    p.UserID,
		Username:  p.Username,
		Role:      p.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close ends the session behind token. Unknown tokens are ignored.
func (g *Gate) Close(ctx context.Context, token string) error {
	return g.sessions.Delete(ctx, token)
}

// RevokeUser ends every session of a user, for example after the account is
// deleted or its role changes.
func (g *Gate) RevokeUser(ctx context.Context, userID string) (int, error) {
	return g.sessions.DeleteByUser(ctx, userID)
}
