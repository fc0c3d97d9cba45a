package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAction(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path string, staffID string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if staffID != "" {
		req = req.WithContext(auth.WithStaff(req.Context(), staffID, roles...))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_RecordsMutation(t *testing.T) {
	id := uuid.New().String()
	c, _ := newTestContext(http.MethodPatch, "/api/v1/appointments/"+id+"/status", "staff-9", auth.RoleReceptionist)
	c.Set("request_id", "req-42")
	rec := &mockRecorder{}

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.StaffID != "staff-9" || got.Action != "update" || got.Resource != "appointments" || got.ResourceID != id {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.RequestID != "req-42" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected request metadata %+v", got)
	}
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/appointments"},
		{http.MethodPost, "/health"},
		{http.MethodGet, "/queue/stream/abc"},
	}
	for _, tt := range tests {
		c, _ := newTestContext(tt.method, tt.path, "staff-1")
		rec := &mockRecorder{}
		_ = Audit(zerolog.Nop(), rec)(okHandler)(c)
		if rec.count() != 0 {
			t.Errorf("%s %s: expected no audit entry", tt.method, tt.path)
		}
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	c, _ := newTestContext(http.MethodPost, "/api/v1/payments", "staff-1", auth.RoleCashier)
	rec := &mockRecorder{}

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "payment exceeds due amount")
	}
	_ = Audit(zerolog.Nop(), rec)(handler)(c)

	if rec.entries[0].StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.entries[0].StatusCode)
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	var buf bytes.Buffer
	c, rec := newTestContext(http.MethodPost, "/api/v1/appointments", "staff-1")
	recorder := &mockRecorder{err: errors.New("disk full")}

	if err := Audit(zerolog.New(&buf), recorder)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "audit recorder failed") {
		t.Error("expected recorder failure to be logged")
	}
	if !strings.Contains(buf.String(), `"staff_id":"staff-1"`) {
		t.Error("expected staff_action log line")
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "",
		http.MethodHead:   "",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}

func TestSplitResource(t *testing.T) {
	id := "3f1c2b9a-1d2e-4f5a-9b8c-7d6e5f4a3b2c"
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/payments", "payments", ""},
		{"/api/v1/appointments/" + id + "/status", "appointments", id},
		{"/api/v1/appointments/queue/call-next", "appointments", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		resource, rid := splitResource(tt.path)
		if resource != tt.resource || rid != tt.id {
			t.Errorf("splitResource(%q) = %q, %q", tt.path, resource, rid)
		}
	}
}
