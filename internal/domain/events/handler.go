package events

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type Handler struct {
	log *Log
}

func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))
	read.GET("/appointments/:id/timeline", h.Timeline)
	read.GET("/appointments/:id/durations", h.Duration)
	read.GET("/event-types", h.ListTypes)

	write := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse))
	write.POST("/appointments/:id/events", h.Record)
}

type recordRequest struct {
	EventType   EventType       `json:"event_type"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Timeline(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	j, err := h.log.Journey(c.Request().Context(), id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, j)
}

// Duration answers ?from=REGISTERED&to=CONSULTATION_STARTED.
func (h *Handler) Duration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	from, to := EventType(c.QueryParam("from")), EventType(c.QueryParam("to"))
	if !from.Valid() || !to.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to must be known event types")
	}
	minutes, ok, err := h.log.DurationBetween(c.Request().Context(), id, from, to)
	if err != nil {
		return apperr.Respond(c, err)
	}
	resp := map[string]any{"from": from, "to": to, "minutes": nil}
	if ok {
		resp["minutes"] = minutes
	}
	return c.JSON(http.StatusOK, resp)
}

// Record accepts workflow events from lab, documents and notes. Lifecycle
// and billing kinds are only written by their own operations.
func (h *Handler) Record(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.EventType.Valid() {
		return apperr.Respond(c, ErrUnknownEventType)
	}
	if !req.EventType.External() {
		return apperr.Respond(c, ErrEventTypeNotAllowed)
	}

	ctx := c.Request().Context()
	entry := Entry{
		AppointmentID: id,
		Type:          req.EventType,
		PerformedBy:   auth.StaffIDFromContext(ctx),
		Description:   req.Description,
	}
	if len(req.Metadata) > 0 {
		entry.Metadata = req.Metadata
	}
	ev, err := h.log.Append(ctx, entry)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) ListTypes(c echo.Context) error {
	out := make(map[EventType]Info)
	for _, t := range Types() {
		out[t], _ = Lookup(t)
	}
	return c.JSON(http.StatusOK, out)
}
