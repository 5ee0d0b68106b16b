package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// SessionCookie carries the session token for browser clients.
const SessionCookie = "clinic_session"

// TokenFromRequest returns the bearer token, falling back to the session
// cookie. The second result is false when the Authorization header is present
// but malformed.
func TokenFromRequest(c echo.Context) (string, bool) {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if ck, err := c.Cookie(SessionCookie); err == nil {
		return ck.Value, true
	}
	return "", true
}

// Authenticate resolves the request token through the gate and stores the
// principal on the request context. Requests without a token act as Guest;
// a token that does not resolve is rejected with 401.
func Authenticate(gate *Gate) echo.MiddlewareFunc {
	return authenticate(gate, Principal{Role: RoleGuest})
}

// DevAuthMiddleware behaves like Authenticate except that requests without a
// token act as an Admin. Development only.
func DevAuthMiddleware(gate *Gate) echo.MiddlewareFunc {
	return authenticate(gate, Principal{UserID: "dev-user", Username: "dev", Role: RoleAdmin})
}

func authenticate(gate *Gate, anonymous Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			token, ok := TokenFromRequest(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			p := anonymous
			if token != "" {
				var err error
				p, err = gate.CurrentRole(c.Request().Context(), token)
				if errors.Is(err, ErrUnauthenticated) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
				}
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable")
				}
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the request principal, or an unauthenticated
// one when none was set.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(PrincipalKey).(Principal)
	return p
}

func RoleFromContext(ctx context.Context) Role {
	return PrincipalFromContext(ctx).Role
}
