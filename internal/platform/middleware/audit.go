package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// AuditEntry records one mutating staff action.
type AuditEntry struct {
	StaffID    string
	StaffRoles []string
	Resource   string
	ResourceID string
	Action     string // create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAction(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAction(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every mutating /api/v1 call with the acting staff id. Reads are
// not audited; the appointment event log already covers domain history.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := httpMethodToAction(req.Method)
			if action == "" || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()
			resource, resourceID := splitResource(req.URL.Path)

			entry := AuditEntry{
				StaffID:    auth.StaffIDFromContext(ctx),
				StaffRoles: auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: resourceID,
				Action:     action,
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  rid,
				StatusCode: status,
			}

			for _, r := range recorders {
				if recErr := r.RecordAction(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", rid).Msg("audit recorder failed")
				}
			}

			logger.Info().
				Str("staff_id", entry.StaffID).
				Strs("roles", entry.StaffRoles).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Str("request_id", entry.RequestID).
				Str("remote_ip", entry.IPAddress).
				Msg("staff_action")

			return err
		}
	}
}

// httpMethodToAction returns "" for methods that do not mutate.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return ""
	}
}

// splitResource parses /api/v1/<resource>/<id>/... into its first two
// segments. The id is returned only when it is a UUID.
//
//	/api/v1/payments                  -> payments, ""
//	/api/v1/appointments/<id>/status  -> appointments, <id>
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	resource := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		resource = segments[0]
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return resource, segments[1]
		}
	}
	return resource, ""
}
