package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleCashier, auth.RoleDoctor))
	read.GET("/bills/:id", h.GetBill)
	read.GET("/appointments/:id/bill", h.GetAppointmentBill)

	cashier := api.Group("", auth.RequireRole(auth.RoleCashier, auth.RoleReceptionist))
	cashier.POST("/payments", h.RecordPayment)
	cashier.POST("/bills/:id/items", h.AddItem)

	override := api.Group("", auth.RequireRole(auth.RoleCashier))
	override.PATCH("/bills/:id/status", h.OverrideStatus)
}

type paymentResponse struct {
	Payment *Payment `json:"payment"`
	Bill    *Bill    `json:"bill"`
}

type itemResponse struct {
	Item *BillItem `json:"item"`
	Bill *Bill     `json:"bill"`
}

type statusRequest struct {
	Status BillStatus `json:"status"`
	Reason string     `json:"reason"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BillID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bill_id is required")
	}
	ctx := c.Request().Context()
	p, b, err := h.svc.RecordPayment(ctx, req, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, paymentResponse{Payment: p, Bill: b})
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetAppointmentBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetByAppointment(c.Request().Context(), id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	ctx := c.Request().Context()
	b, item, err := h.svc.AddItem(ctx, id, req, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, itemResponse{Item: item, Bill: b})
}

func (h *Handler) OverrideStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.OverrideStatus(ctx, id, req.Status, auth.StaffIDFromContext(ctx), req.Reason)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
