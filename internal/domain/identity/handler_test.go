package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *testEnv, *echo.Echo) {
	t.Helper()
	env := newTestEnv(t)
	return NewHandler(env.svc, nil), env, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func asPrincipal(req *http.Request, p Principal) *http.Request {
	return req.WithContext(WithPrincipal(req.Context(), p))
}

func TestHandler_Register(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"username":"alice","email":"alice@example.com","password":"s3cure-pass","password2":"s3cure-pass","is_doctor":true,"is_staff":true}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/users/register", body), rec)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["is_staff"] != false {
		t.Error("is_staff must never be taken from the request")
	}
	if got["is_doctor"] != true {
		t.Error("expected is_doctor from request")
	}
	if _, leaked := got["password_hash"]; leaked {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_Register_BadJSON(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodPost, "/users/register", `{"username":`), httptest.NewRecorder())

	err := h.Register(c)
	if !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("expected bad request, got %v", err)
	}
}

func TestHandler_ObtainToken(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.addUser(t, "carol", nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/token", `{"username":"carol","password":"correct-horse"}`), rec)
	if err := h.ObtainToken(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var pair auth.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Errorf("expected both tokens, got %+v", pair)
	}
}

func TestHandler_ObtainToken_MissingFields(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/token", `{"username":"carol"}`), httptest.NewRecorder())

	err := h.ObtainToken(c)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Reason != "credentials_required" {
		t.Errorf("expected credentials_required, got %v", err)
	}
}

func TestHandler_VerifyToken(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.addUser(t, "carol", nil)
	pair, _ := env.svc.Authenticate(context.Background(), "carol", "correct-horse")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/auth/token/verify", `{"token":"`+pair.Access+`"}`), rec)
	if err := h.VerifyToken(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("expected 200 {}, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Logout(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.addUser(t, "carol", nil)
	pair, _ := env.svc.Authenticate(context.Background(), "carol", "correct-horse")
	claims, _ := env.tokens.Parse(pair.Access, auth.AccessToken)

	req := jsonRequest(http.MethodPost, "/auth/logout", `{"refresh":"`+pair.Refresh+`"}`)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if revoked, _ := env.revocations.IsRevoked(context.Background(), claims.ID); !revoked {
		t.Error("expected access token revoked")
	}
}

func TestHandler_Profile(t *testing.T) {
	h, env, e := newTestHandler(t)
	u := env.addUser(t, "bob", nil)

	rec := httptest.NewRecorder()
	req := asPrincipal(jsonRequest(http.MethodPatch, "/users/profile", `{"last_name":"Builder"}`), Plain{User: u})
	if err := h.UpdateProfile(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = httptest.NewRecorder()
	req = asPrincipal(httptest.NewRequest(http.MethodGet, "/users/profile", nil), Plain{User: u})
	if err := h.GetProfile(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got User
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LastName != "Builder" || got.Username != "bob" {
		t.Errorf("unexpected profile: %+v", got)
	}
}

func TestHandler_Profile_Unauthenticated(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/users/profile", nil), httptest.NewRecorder())

	if err := h.GetProfile(c); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestHandler_CreateAndGetPatient(t *testing.T) {
	h, env, e := newTestHandler(t)
	admin := Admin{User: env.addUser(t, "admin", func(u *User) { u.IsStaff = true })}
	pat := env.addUser(t, "pat", func(u *User) { u.IsPatient = true })

	rec := httptest.NewRecorder()
	body := `{"user_id":"` + pat.ID.String() + `","date_of_birth":"1985-07-12","gender":"M"}`
	if err := h.CreatePatient(e.NewContext(asPrincipal(jsonRequest(http.MethodPost, "/patients", body), admin), rec)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created["date_of_birth"] != "1985-07-12" {
		t.Errorf("expected plain date, got %v", created["date_of_birth"])
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(asPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), admin), rec)
	c.SetParamNames("id")
	c.SetParamValues(created["id"].(string))
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_ListDoctors_SetsTotal(t *testing.T) {
	h, env, e := newTestHandler(t)
	admin := Admin{User: &User{IsStaff: true}}
	for _, name := range []string{"a", "b", "c"} {
		u := env.addUser(t, "doc-"+name, func(u *User) { u.IsDoctor = true })
		_ = env.doctors.Create(context.Background(), &DoctorProfile{UserID: u.ID, Username: u.Username, Specialization: "GP"})
	}

	rec := httptest.NewRecorder()
	req := asPrincipal(httptest.NewRequest(http.MethodGet, "/doctors?limit=2", nil), admin)
	if err := h.ListDoctors(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Total-Count") != "3" {
		t.Errorf("expected total 3, got %q", rec.Header().Get("X-Total-Count"))
	}
	var got []DoctorProfile
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 2 {
		t.Errorf("expected 2 doctors in page, got %d", len(got))
	}
}

func TestHandler_GetDoctor_BadID(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(asPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), Admin{User: &User{}}), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if err := h.GetDoctor(c); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
