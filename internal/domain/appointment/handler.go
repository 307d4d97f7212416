package appointment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthsync/healthsync/internal/domain/identity"
	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/appointments", h.List)
	g.POST("/appointments", h.Create)
	g.GET("/appointments/count", h.Count)
	g.GET("/appointments/:id", h.Get)
	g.PUT("/appointments/:id", h.Replace)
	g.PATCH("/appointments/:id", h.Update)
	g.DELETE("/appointments/:id", h.Delete)
}

type appointmentRequest struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ScheduledAt string    `json:"scheduled_at"`
	IsCompleted bool      `json:"is_completed"`
}

type patchRequest struct {
	DoctorID    *uuid.UUID `json:"doctor_id"`
	PatientID   *uuid.UUID `json:"patient_id"`
	ScheduledAt *string    `json:"scheduled_at"`
	IsCompleted *bool      `json:"is_completed"`
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.BadRequest("invalid_body", "request body must be valid JSON")
	}
	return nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, notFound()
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.List(c.Request().Context(), p, pagination.FromContext(c))
	if err != nil {
		return err
	}
	pagination.SetTotal(c, total)
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), p, Input(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Replace(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Replace(c.Request().Context(), p, id, Input(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Update(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req patchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Update(c.Request().Context(), p, id, PatchInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Count serves GET /appointments/count?start_date=&end_date=&status=&doctor=.
func (h *Handler) Count(c echo.Context) error {
	p, err := identity.MustPrincipal(c)
	if err != nil {
		return err
	}
	counts, err := h.svc.Count(c.Request().Context(), p,
		c.QueryParam("start_date"), c.QueryParam("end_date"),
		c.QueryParam("status"), c.QueryParam("doctor"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}
