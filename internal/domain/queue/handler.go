package queue

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/domain/doctor"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

type DoctorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
}

// Server upgrades a request into a hub subscription. websocket.Hub
// satisfies it.
type Server interface {
	Serve(c echo.Context, resource string, hooks websocket.Hooks) error
}

type Handler struct {
	b       *Broadcaster
	doctors DoctorLookup
	ws      Server
}

func NewHandler(b *Broadcaster, doctors DoctorLookup, ws Server) *Handler {
	return &Handler{b: b, doctors: doctors, ws: ws}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))
	read.GET("/appointments/queue/:doctorId", h.Snapshot)
}

// RegisterStreamRoutes mounts the live feed outside /api/v1. Browsers
// cannot set headers on a websocket handshake and pass ?access_token=.
func (h *Handler) RegisterStreamRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/queue/stream/:doctorId", h.Stream, mw...)
}

func (h *Handler) doctorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	if _, err := h.doctors.GetByID(c.Request().Context(), id); err != nil {
		return uuid.Nil, apperr.Respond(c, err)
	}
	return id, nil
}

func (h *Handler) Snapshot(c echo.Context) error {
	id, err := h.doctorID(c)
	if err != nil {
		return err
	}
	snap, err := h.b.Snapshot(c.Request().Context(), id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) Stream(c echo.Context) error {
	id, err := h.doctorID(c)
	if err != nil {
		return err
	}
	return h.ws.Serve(c, Resource(id), h.b.Hooks())
}
