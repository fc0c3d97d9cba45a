package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	StaffIDKey    contextKey = "staff_id"
	StaffRolesKey contextKey = "staff_roles"
)

// Claims carried by front-desk staff tokens. The subject is the staff id.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Skipper    middleware.Skipper
}

// tokenFromRequest reads the bearer token from the Authorization header.
// Browsers cannot set headers on a websocket upgrade, so the queue stream
// may pass it as ?access_token= instead.
func tokenFromRequest(r *http.Request) (string, *echo.HTTPError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func parseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, httpErr := tokenFromRequest(c.Request())
			if httpErr != nil {
				return httpErr
			}

			claims, err := parseToken(cfg, tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := WithStaff(c.Request().Context(), claims.Subject, claims.Roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets requests without a token through as dev-user with
// the admin role. Requests that do carry a token are validated normally when
// a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	strict := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		validated := strict(next)
		return func(c echo.Context) error {
			r := c.Request()
			if r.Header.Get("Authorization") == "" && r.URL.Query().Get("access_token") == "" {
				ctx := WithStaff(r.Context(), "dev-user", RoleAdmin)
				c.SetRequest(r.WithContext(ctx))
				return next(c)
			}
			if len(cfg.SigningKey) == 0 {
				return next(c)
			}
			return validated(c)
		}
	}
}

// WithStaff returns a context carrying the acting staff identity.
func WithStaff(ctx context.Context, staffID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, StaffIDKey, staffID)
	return context.WithValue(ctx, StaffRolesKey, roles)
}

func StaffIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(StaffIDKey).(string)
	return id
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(StaffRolesKey).([]string)
	return roles
}
