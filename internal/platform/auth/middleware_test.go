package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func newTestGate(t *testing.T) (*Gate, *Session) {
	t.Helper()
	gate := NewGate(NewMemorySessionStore(), &JWTResolver{SigningKey: testSigningKey}, time.Hour)
	sess, err := gate.Open(context.Background(), Principal{UserID: "u1", Username: "alice", Role: RoleStaff})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return gate, sess
}

// serve runs mw around a handler that captures the resolved principal.
func serve(t *testing.T, mw echo.MiddlewareFunc, path string, setup func(*http.Request)) (Principal, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	var got Principal
	handler := func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}
	err := mw(handler)(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestAuthenticate_NoTokenIsGuest(t *testing.T) {
	gate, _ := newTestGate(t)
	p, err := serve(t, Authenticate(gate), "/api/v1/departments", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleGuest {
		t.Errorf("expected Guest, got %q", p.Role)
	}
}

func TestAuthenticate_BearerSession(t *testing.T) {
	gate, sess := newTestGate(t)
	p, err := serve(t, Authenticate(gate), "/api/v1/patients", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+sess.Token)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleStaff || p.Username != "alice" {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestAuthenticate_Cookie(t *testing.T) {
	gate, sess := newTestGate(t)
	p, err := serve(t, Authenticate(gate), "/api/v1/patients", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.Token})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "u1" {
		t.Errorf("expected u1, got %q", p.UserID)
	}
}

func TestAuthenticate_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	gate, _ := newTestGate(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serve(t, Authenticate(gate), "/api/v1/patients", func(r *http.Request) {
				r.Header.Set("Authorization", tt.header)
			})
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestAuthenticate_UnknownToken(t *testing.T) {
	gate, _ := newTestGate(t)
	_, err := serve(t, Authenticate(gate), "/api/v1/patients", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer deadbeef")
	})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestAuthenticate_LogoutRevokes(t *testing.T) {
	gate, sess := newTestGate(t)
	if err := gate.Close(context.Background(), sess.Token); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := serve(t, Authenticate(gate), "/api/v1/patients", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+sess.Token)
	})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestAuthenticate_SkipsPublicPaths(t *testing.T) {
	gate, _ := newTestGate(t)
	for _, path := range []string{"/health", "/health/db", "/api/v1/auth/login"} {
		_, err := serve(t, Authenticate(gate), path, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer stale")
		})
		if err != nil {
			t.Errorf("%s: expected public path to skip auth, got %v", path, err)
		}
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	gate, sess := newTestGate(t)
	p, err := serve(t, DevAuthMiddleware(gate), "/api/v1/users", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleAdmin || p.UserID != "dev-user" {
		t.Errorf("expected dev admin, got %+v", p)
	}

	p, err = serve(t, DevAuthMiddleware(gate), "/api/v1/users", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+sess.Token)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleStaff {
		t.Errorf("explicit token should win, got %q", p.Role)
	}
}

func TestGate_OpenRejectsGuest(t *testing.T) {
	gate := NewGate(NewMemorySessionStore(), nil, 0)
	if _, err := gate.Open(context.Background(), Principal{Role: RoleGuest}); !errors.Is(err, ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
}

func TestGate_RevokeUser(t *testing.T) {
	gate, sess := newTestGate(t)
	n, err := gate.RevokeUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 revoked, got %d", n)
	}
	if _, err := gate.CurrentRole(context.Background(), sess.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthenticate_ValidJWT(t *testing.T) {
	gate, _ := newTestGate(t)
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ext-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Username: "bob",
		Role:     "Admin",
	}, testSigningKey)

	p, err := serve(t, Authenticate(gate), "/api/v1/users", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tokenStr)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RoleAdmin || p.UserID != "ext-1" {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestAuthenticate_ExpiredJWT(t *testing.T) {
	gate, _ := newTestGate(t)
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ext-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: "Admin",
	}, testSigningKey)

	_, err := serve(t, Authenticate(gate), "/api/v1/users", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tokenStr)
	})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTResolver_WrongKey(t *testing.T) {
	r := &JWTResolver{SigningKey: testSigningKey}
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             "Staff",
	}, []byte("another-key"))
	if _, err := r.Resolve(tokenStr); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestJWTResolver_IssueRoundTrip(t *testing.T) {
	r := &JWTResolver{SigningKey: testSigningKey, Issuer: "clinic", Audience: "clinic-api"}
	tokenStr, err := r.Issue(Principal{UserID: "u9", Username: "carol", Role: RoleStaff}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := r.Resolve(tokenStr)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.UserID != "u9" || p.Role != RoleStaff {
		t.Errorf("unexpected principal %+v", p)
	}

	other := &JWTResolver{SigningKey: testSigningKey, Issuer: "someone-else"}
	if _, err := other.Resolve(tokenStr); err == nil {
		t.Error("expected issuer mismatch to fail")
	}
}

func TestPassword(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := CheckPassword(hash, "correct horse")
	if err != nil || !ok {
		t.Errorf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong horse")
	if err != nil || ok {
		t.Errorf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}
