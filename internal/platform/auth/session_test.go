package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestSession(t *testing.T, userID string, ttl time.Duration) *Session {
	t.Helper()
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	now := time.Now()
	return &Session{
		Token:     tok,
		UserID:    userID,
		Username:  "user-" + userID,
		Role:      RoleStaff,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		if len(tok) != 64 {
			t.Fatalf("expected 64 hex chars, got %d", len(tok))
		}
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

// sessionStoreContract runs the behaviour every SessionStore must share.
func sessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		sess := newTestSession(t, "u1", time.Hour)
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := store.Get(ctx, sess.Token)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.UserID != "u1" || got.Role != RoleStaff {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		sess := newTestSession(t, "u2", time.Hour)
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.Delete(ctx, sess.Token); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated after delete, got %v", err)
		}
		if err := store.Delete(ctx, sess.Token); err != nil {
			t.Errorf("deleting twice should be a no-op, got %v", err)
		}
	})

	t.Run("delete by user", func(t *testing.T) {
		a := newTestSession(t, "u3", time.Hour)
		b := newTestSession(t, "u3", time.Hour)
		other := newTestSession(t, "u4", time.Hour)
		for _, s := range []*Session{a, b, other} {
			if err := store.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		n, err := store.DeleteByUser(ctx, "u3")
		if err != nil {
			t.Fatalf("DeleteByUser: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 sessions removed, got %d", n)
		}
		if _, err := store.Get(ctx, a.Token); !errors.Is(err, ErrUnauthenticated) {
			t.Error("session a should be revoked")
		}
		if _, err := store.Get(ctx, other.Token); err != nil {
			t.Errorf("other user's session should survive: %v", err)
		}
	})
}

func TestMemorySessionStore(t *testing.T) {
	sessionStoreContract(t, NewMemorySessionStore())
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	sess := newTestSession(t, "u1", time.Minute)
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := store.Get(context.Background(), sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected expired session to be rejected, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected expired session to be dropped, count=%d", store.Count())
	}
}

func TestRedisSessionStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	sessionStoreContract(t, NewRedisSessionStore(rdb, "clinic-test-"+time.Now().Format("150405.000")))
}
