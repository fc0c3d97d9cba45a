package appointment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse, auth.RoleCashier))
	read.GET("/appointments", h.List)
	read.GET("/appointments/:id", h.Get)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/appointments", h.Create)
	desk.POST("/appointments/with-new-patient", h.CreateWithNewPatient)

	clinical := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse))
	clinical.PATCH("/appointments/:id/status", h.UpdateStatus)
	clinical.PATCH("/appointments/:id", h.UpdateDetails)
	clinical.POST("/appointments/queue/call-next", h.CallNext)
}

type statusRequest struct {
	Status Status `json:"status"`
}

type callNextRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and doctor_id are required")
	}
	ctx := c.Request().Context()
	reg, err := h.svc.Create(ctx, in, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) CreateWithNewPatient(c echo.Context) error {
	var in CreateWithPatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	ctx := c.Request().Context()
	reg, err := h.svc.CreateWithNewPatient(ctx, in, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.UpdateStatus(ctx, id, req.Status, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateDetails(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd DetailsUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.UpdateDetails(ctx, id, upd, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CallNext(c echo.Context) error {
	var req callNextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	ctx := c.Request().Context()
	a, err := h.svc.CallNext(ctx, req.DoctorID, auth.StaffIDFromContext(ctx))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// List filters by ?doctor_id, ?patient_id, ?date=YYYY-MM-DD and ?status.
func (h *Handler) List(c echo.Context) error {
	var f ListFilter
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("date"); v != "" {
		day, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Day = &day
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return apperr.Respond(c, ErrInvalidStatus)
		}
		f.Status = &st
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
