package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

// AuditEntry records who touched which clinic record.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	Username   string
	Role       auth.Role
	Action     string // read, create, update, delete
	Resource   string // first path segment under /api/v1, e.g. "patients"
	ResourceID string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedResources hold patient data or accounts; every access is logged.
// Other resources are logged only on writes.
var auditedResources = map[string]bool{
	"patients":     true,
	"appointments": true,
	"users":        true,
	"admin":        true,
	"reports":      true,
}

// Audit logs access to clinic records under /api/v1. It reads the principal
// after the handler ran, so it may sit in front of authentication.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource, id, ok := splitAPIPath(req.URL.Path)
			if !ok {
				return next(c)
			}
			action := httpMethodToAction(req.Method)
			if action == "read" && !auditedResources[resource] {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			p := auth.PrincipalFromContext(c.Request().Context())
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				UserID:     p.UserID,
				Username:   p.Username,
				Role:       p.Role,
				Action:     action,
				Resource:   resource,
				ResourceID: id,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("username", entry.Username).
				Str("role", string(entry.Role)).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitAPIPath returns the resource segment and, when the next segment is a
// uuid, the record id.
//
//	/api/v1/patients            -> patients, ""
//	/api/v1/patients/<uuid>     -> patients, <uuid>
//	/api/v1/doctors/<uuid>/slots -> doctors, <uuid>
func splitAPIPath(path string) (resource, id string, ok bool) {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	segments := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if segments[0] == "" {
		return "", "", false
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			id = segments[1]
		}
	}
	return segments[0], id, true
}
