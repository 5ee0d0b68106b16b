package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

// UserRequest creates or patches a user account. Password is plain text and
// is hashed before storage.
type UserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is returned to the client after a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// UserService manages accounts and turns credentials into sessions.
type UserService struct {
	store  Store
	gate   *auth.Gate
	logger zerolog.Logger
}

// NewUserService wires the user service. gate may be nil for offline
// commands that never open sessions.
func NewUserService(store Store, gate *auth.Gate, logger zerolog.Logger) *UserService {
	return &UserService{store: store, gate: gate, logger: logger}
}

func (s *UserService) applyUser(u *User, req UserRequest) error {
	setTrimmed(&u.Username, req.Username)
	setTrimmed(&u.FullName, req.FullName)
	setTrimmed(&u.Email, req.Email)
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil || !role.Assignable() {
			return validationf("role must be Admin or Staff")
		}
		u.Role = role
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			return validationf("%v", err)
		}
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}

	if u.Username == "" || strings.ContainsAny(u.Username, " \t\n") {
		return validationf("username is required and must not contain spaces")
	}
	if u.PasswordHash == "" {
		return validationf("password is required")
	}
	if !u.Role.Assignable() {
		return validationf("role must be Admin or Staff")
	}
	return nil
}

func (s *UserService) CreateUser(ctx context.Context, req UserRequest) (*User, error) {
	u := &User{}
	if err := s.applyUser(u, req); err != nil {
		return nil, err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin creates an Admin from req when no account exists yet and
// returns it. It returns nil when the users table already has rows.
func (s *UserService) EnsureAdmin(ctx context.Context, req UserRequest) (*User, error) {
	role := string(auth.RoleAdmin)
	req.Role = &role
	u := &User{}
	if err := s.applyUser(u, req); err != nil {
		return nil, err
	}
	created := false
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockAdmins(ctx); err != nil {
			return err
		}
		existing, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		created = true
		return tx.InsertUser(ctx, u)
	})
	if err != nil || !created {
		return nil, err
	}
	s.logger.Info().Str("username", u.Username).Msg("created initial admin account")
	return u, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *UserService) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.ListUsers(ctx)
}

func countAdmins(ctx context.Context, r Reader) (int, error) {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if u.Role == auth.RoleAdmin {
			n++
		}
	}
	return n, nil
}

// UpdateUser patches an account. Demoting the last Admin fails with
// auth.ErrPermission. A role or password change revokes the user's sessions.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, req UserRequest) (*User, error) {
	var (
		out    *User
		revoke bool
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if req.Role != nil {
			if err := tx.LockAdmins(ctx); err != nil {
				return err
			}
		}
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		before := *u
		if err := s.applyUser(u, req); err != nil {
			return err
		}
		if before.Role == auth.RoleAdmin && u.Role != auth.RoleAdmin {
			n, err := countAdmins(ctx, tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return fmt.Errorf("%w: cannot demote the last admin", auth.ErrPermission)
			}
		}
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		revoke = before.Role != u.Role || before.PasswordHash != u.PasswordHash
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if revoke {
		s.revoke(ctx, id)
	}
	return out, nil
}

// DeleteUser removes an account on behalf of actor. Nobody may delete their
// own account, and the last Admin can never be deleted.
func (s *UserService) DeleteUser(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if actor.UserID == id.String() {
		return fmt.Errorf("%w: cannot delete your own account", auth.ErrPermission)
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockAdmins(ctx); err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u.Role == auth.RoleAdmin {
			n, err := countAdmins(ctx, tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return fmt.Errorf("%w: cannot delete the last admin", auth.ErrPermission)
			}
		}
		return tx.DeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}
	s.revoke(ctx, id)
	return nil
}

func (s *UserService) revoke(ctx context.Context, id uuid.UUID) {
	if s.gate == nil {
		return
	}
	n, err := s.gate.RevokeUser(ctx, id.String())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to revoke sessions")
		return
	}
	if n > 0 {
		s.logger.Info().Str("user_id", id.String()).Int("sessions", n).Msg("sessions revoked")
	}
}

var errBadCredentials = fmt.Errorf("invalid username or password: %w", auth.ErrUnauthenticated)

// Login checks credentials and opens a session.
func (s *UserService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if s.gate == nil {
		return nil, errors.New("login is not available without a session gate")
	}
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errBadCredentials
	}

	sess, err := s.gate.Open(ctx, auth.Principal{UserID: u.ID.String(), Username: u.Username, Role: u.Role})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", u.Username).Str("role", string(u.Role)).Msg("user logged in")
	return &LoginResult{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: u}, nil
}

func (s *UserService) Logout(ctx context.Context, token string) error {
	if s.gate == nil || token == "" {
		return nil
	}
	return s.gate.Close(ctx, token)
}

// Me returns the account behind p. Principals without a stored account, such
// as the development admin or an external bearer token, are described from
// the principal alone.
func (s *UserService) Me(ctx context.Context, p auth.Principal) (*User, error) {
	if err := auth.Require(p, auth.RoleStaff); err != nil {
		return nil, err
	}
	if id, err := uuid.Parse(p.UserID); err == nil {
		u, err := s.store.GetUser(ctx, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return &User{Username: p.Username, Role: p.Role}, nil
}
