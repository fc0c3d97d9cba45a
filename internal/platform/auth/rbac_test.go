package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		allowed  bool
	}{
		{"matching role", []string{RoleCashier}, []string{RoleCashier, RoleReceptionist}, true},
		{"admin passes", []string{RoleAdmin}, []string{RoleDoctor}, true},
		{"wrong role", []string{RoleNurse}, []string{RoleCashier}, false},
		{"no roles", nil, []string{RoleReceptionist}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithStaff(req.Context(), "staff-1", tt.granted...))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.required...)(okHandler)(c)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			expectStatus(t, err, http.StatusForbidden)
		})
	}
}
