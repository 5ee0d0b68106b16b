package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Session binds an opaque token to the principal that logged in with it.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Principal() Principal {
	return Principal{UserID: s.UserID, Username: s.Username, Role: s.Role}
}

// SessionStore persists sessions by token. Get returns ErrUnauthenticated for
// unknown or expired tokens.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	// DeleteByUser revokes every session of a user and returns how many
	// were removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MemorySessionStore keeps sessions in process memory. Expired sessions are
// dropped when they are next looked up.
type MemorySessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]Session  // token -> session
	userTokens map[string][]string // userID -> tokens
	now        func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:   make(map[string]Session),
		userTokens: make(map[string][]string),
		now:        time.Now,
	}
}

func (s *MemorySessionStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Token] = *sess
	if sess.UserID != "" {
		s.userTokens[sess.UserID] = append(s.userTokens[sess.UserID], sess.Token)
	}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrUnauthenticated
	}
	if s.now().After(sess.ExpiresAt) {
		s.mu.Lock()
		s.remove(token)
		s.mu.Unlock()
		return nil, fmt.Errorf("session expired: %w", ErrUnauthenticated)
	}
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(token)
	return nil
}

func (s *MemorySessionStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.userTokens[userID]
	n := 0
	for _, tok := range tokens {
		if _, ok := s.sessions[tok]; ok {
			delete(s.sessions, tok)
			n++
		}
	}
	delete(s.userTokens, userID)
	return n, nil
}

// remove deletes one session and its user index entry. Callers hold mu.
func (s *MemorySessionStore) remove(token string) {
	sess, ok := s.sessions[token]
	if !ok {
		return
	}
	delete(s.sessions, token)

	tokens := s.userTokens[sess.UserID]
	for i, tok := range tokens {
		if tok == token {
			s.userTokens[sess.UserID] = append(tokens[:i:i], tokens[i+1:]...)
			break
		}
	}
	if len(s.userTokens[sess.UserID]) == 0 {
		delete(s.userTokens, sess.UserID)
	}
}

// Count returns the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
