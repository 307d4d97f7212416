package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
	"github.com/healthsync/healthsync/pkg/pagination"
)

type Handler struct {
	svc *Service
	// authLimit throttles the credential endpoints; may be nil.
	authLimit echo.MiddlewareFunc
}

func NewHandler(svc *Service, authLimit echo.MiddlewareFunc) *Handler {
	return &Handler{svc: svc, authLimit: authLimit}
}

// RegisterRoutes mounts the account, token and profile endpoints. Paths are
// registered without a trailing slash; the server strips it before routing.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	var limited []echo.MiddlewareFunc
	if h.authLimit != nil {
		limited = append(limited, h.authLimit)
	}

	g.POST("/users/register", h.Register, limited...)
	g.GET("/users/profile", h.GetProfile)
	g.PATCH("/users/profile", h.UpdateProfile)

	g.POST("/auth/token", h.ObtainToken, limited...)
	g.POST("/auth/token/refresh", h.RefreshToken)
	g.POST("/auth/token/verify", h.VerifyToken)
	g.POST("/auth/logout", h.Logout)

	// per-route: a middleware group would also catch unmatched paths
	admin := RequireAdmin()
	g.POST("/doctors", h.CreateDoctor, admin)
	g.GET("/doctors", h.ListDoctors, admin)
	g.GET("/doctors/:id", h.GetDoctor, admin)
	g.POST("/patients", h.CreatePatient, admin)
	g.GET("/patients", h.ListPatients, admin)
	g.GET("/patients/:id", h.GetPatient, admin)
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
		return uuid.Nil, apperr.NotFound("not_found", "not found")
	}
	return id, nil
}

// -- Account --

type registerRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Password2   string  `json:"password2"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	IsDoctor    bool    `json:"is_doctor"`
	IsPatient   bool    `json:"is_patient"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Password2:   req.Password2,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		IsDoctor:    req.IsDoctor,
		IsPatient:   req.IsPatient,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Profile(c.Request().Context(), p.Account().ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type profileRequest struct {
	Email       *string `json:"email"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	var req profileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), p.Account().ID, ProfileUpdate(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// -- Tokens --

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) ObtainToken(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return apperr.BadRequest("credentials_required", "username and password are required")
	}
	pair, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (h *Handler) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Refresh == "" {
		return apperr.BadRequest("token_required", "refresh is required")
	}
	pair, err := h.svc.Refresh(c.Request().Context(), req.Refresh)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *Handler) VerifyToken(c echo.Context) error {
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Verify(c.Request().Context(), req.Token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (h *Handler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	claims := auth.ClaimsFromContext(c.Request().Context())
	if err := h.svc.Logout(c.Request().Context(), claims, req.Refresh); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Doctors --

type doctorRequest struct {
	UserID         uuid.UUID `json:"user_id"`
	Specialization string    `json:"specialization"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	var req doctorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), p, DoctorInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), p, pg)
	if err != nil {
		return err
	}
	pagination.SetTotal(c, total)
	return c.JSON(http.StatusOK, doctors)
}

// -- Patients --

type patientRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	DateOfBirth string    `json:"date_of_birth"`
	Gender      string    `json:"gender"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	var req patientRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pt, err := h.svc.CreatePatient(c.Request().Context(), p, PatientInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pt)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pt, err := h.svc.GetPatient(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pt)
}

func (h *Handler) ListPatients(c echo.Context) error {
	p, err := MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), p, pg)
	if err != nil {
		return err
	}
	pagination.SetTotal(c, total)
	return c.JSON(http.StatusOK, patients)
}
