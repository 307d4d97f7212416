package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
)

func TestResolvePrincipal(t *testing.T) {
	doctor := &DoctorProfile{ID: uuid.New()}
	patient := &PatientProfile{ID: uuid.New()}

	tests := []struct {
		name    string
		user    *User
		doctor  *DoctorProfile
		patient *PatientProfile
		want    string
	}{
		{"staff beats profiles", &User{IsStaff: true}, doctor, patient, "admin"},
		{"doctor beats patient", &User{}, doctor, patient, "doctor"},
		{"patient", &User{}, nil, patient, "patient"},
		{"plain", &User{IsDoctor: true, IsPatient: true}, nil, nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolvePrincipal(tt.user, tt.doctor, tt.patient)
			if got := RoleName(p); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if p.Account() != tt.user {
				t.Error("expected Account to return the user")
			}
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("expected no principal on empty context")
	}
	p := Plain{User: &User{Username: "x"}}
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), p))
	if !ok || got.Account().Username != "x" {
		t.Errorf("expected principal round trip, got %v", got)
	}
}

func TestPrincipalMiddleware(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice", nil)
	e := echo.New()

	var seen Principal
	h := PrincipalMiddleware(env.svc)(func(c echo.Context) error {
		seen, _ = PrincipalFromContext(c.Request().Context())
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	claims := &auth.Claims{}
	claims.Subject = u.ID.String()
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := seen.(Plain); !ok {
		t.Errorf("expected Plain principal, got %T", seen)
	}
	if c.Get("role") != "plain" {
		t.Errorf("expected role on context, got %v", c.Get("role"))
	}
}

func TestPrincipalMiddleware_PublicRoutePassesThrough(t *testing.T) {
	env := newTestEnv(t)
	e := echo.New()
	called := false
	h := PrincipalMiddleware(env.svc)(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/token", nil), httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected next handler to run")
	}
}

func TestPrincipalMiddleware_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "gone", func(u *User) { u.IsActive = false })
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	claims := &auth.Claims{}
	claims.Subject = u.ID.String()
	req = req.WithContext(auth.WithClaims(req.Context(), claims))

	err := PrincipalMiddleware(env.svc)(func(echo.Context) error { return nil })(e.NewContext(req, httptest.NewRecorder()))
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	e := echo.New()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	tests := []struct {
		name string
		p    Principal
		want error
	}{
		{"admin", Admin{User: &User{}}, nil},
		{"doctor", Doctor{User: &User{}}, apperr.ErrForbidden},
		{"patient", Patient{User: &User{}}, apperr.ErrForbidden},
		{"plain", Plain{User: &User{}}, apperr.ErrForbidden},
		{"anonymous", nil, apperr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/doctors", nil)
			if tt.p != nil {
				req = asPrincipal(req, tt.p)
			}
			err := RequireAdmin()(next)(e.NewContext(req, httptest.NewRecorder()))
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseGender(t *testing.T) {
	for in, want := range map[string]Gender{"M": GenderMale, "male": GenderMale, " FEMALE ": GenderFemale, "f": GenderFemale} {
		if got, ok := ParseGender(in); !ok || got != want {
			t.Errorf("ParseGender(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseGender("x"); ok {
		t.Error("expected unknown gender rejected")
	}
}

func TestPatientProfile_JSONDate(t *testing.T) {
	p := PatientProfile{Username: "pat", DateOfBirth: time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC), Gender: GenderMale}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"date_of_birth":"2001-02-03"`) {
		t.Errorf("expected plain date, got %s", b)
	}
}

func TestUser_FullName(t *testing.T) {
	u := &User{FirstName: "Gregory", LastName: "House"}
	if u.FullName() != "Gregory House" {
		t.Errorf("got %q", u.FullName())
	}
	if (&User{LastName: "House"}).FullName() != "House" {
		t.Error("expected trimmed name")
	}
}
