package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is the access level resolved for a request. The zero value is
// RoleUnauthenticated.
type Role string

const (
	RoleUnauthenticated Role = ""
	RoleGuest           Role = "Guest"
	RoleStaff           Role = "Staff"
	RoleAdmin           Role = "Admin"
)

var roleRank = map[Role]int{
	RoleUnauthenticated: 0,
	RoleGuest:           1,
	RoleStaff:           2,
	RoleAdmin:           3,
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Assignable reports whether a user account may hold this role.
func (r Role) Assignable() bool {
	return r == RoleStaff || r == RoleAdmin
}

// ParseRole accepts any casing of a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleGuest, RoleStaff, RoleAdmin} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return RoleUnauthenticated, fmt.Errorf("unknown role %q", s)
}

// Require checks a principal against a minimum role.
func Require(p Principal, min Role) error {
	if p.Role == RoleUnauthenticated {
		return ErrUnauthenticated
	}
	if !p.Role.AtLeast(min) {
		return fmt.Errorf("%w: requires %s, have %s", ErrPermission, min, p.Role)
	}
	return nil
}

// RequireRole returns middleware that rejects requests whose principal does
// not hold at least min.
func RequireRole(min Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if err := Require(p, min); err != nil {
				if p.Role == RoleUnauthenticated {
					return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
				}
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required role: %s", min))
			}
			return next(c)
		}
	}
}
