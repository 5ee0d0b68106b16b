package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	store := NewMemoryStore()
	gate := auth.NewGate(auth.NewMemorySessionStore(), nil, time.Hour)
	h := NewHandler(NewService(store), NewUserService(store, gate, zerolog.Nop()), false)
	e := echo.New()
	return h, e
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func asAdmin(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: id.String(), Username: "admin", Role: auth.RoleAdmin}))
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_CreateDepartment(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/departments", `{"name":"Cardiology"}`), rec)
	if err := h.CreateDepartment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var d Department
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.Name != "Cardiology" || !d.Active {
		t.Errorf("unexpected department %+v", d)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/departments", `{"name":"Cardiology"}`), rec)
	if code := httpCode(t, h.CreateDepartment(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/departments", `{"description":"nameless"}`), rec)
	if code := httpCode(t, h.CreateDepartment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetDepartment_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpCode(t, h.GetDepartment(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetDepartment_InvalidID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if code := httpCode(t, h.GetDepartment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateDoctor_UnknownDepartment(t *testing.T) {
	h, e := newTestHandler()

	body := `{"name":"Dr. Nobody","department_id":"` + uuid.NewString() + `"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/doctors", body), rec)
	if code := httpCode(t, h.CreateDoctor(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestHandler_ListDoctors_FilterByDepartment(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	a, _ := h.svc.CreateDepartment(ctx, DepartmentRequest{Name: ptr("A")})
	b, _ := h.svc.CreateDepartment(ctx, DepartmentRequest{Name: ptr("B")})
	h.svc.CreateDoctor(ctx, DoctorRequest{Name: ptr("Dr. A1"), DepartmentID: &a.ID})
	h.svc.CreateDoctor(ctx, DoctorRequest{Name: ptr("Dr. A2"), DepartmentID: &a.ID})
	h.svc.CreateDoctor(ctx, DoctorRequest{Name: ptr("Dr. B1"), DepartmentID: &b.ID})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors?department_id="+a.ID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListDoctors(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Doctor `json:"data"`
		Total int      `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 {
		t.Errorf("expected 2 doctors, got total=%d len=%d", body.Total, len(body.Data))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/doctors?department_id=bogus", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.ListDoctors(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListPatients_Search(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	h.svc.CreatePatient(ctx, PatientRequest{FirstName: ptr("Marie"), LastName: ptr("Curie")})
	h.svc.CreatePatient(ctx, PatientRequest{FirstName: ptr("Pierre"), LastName: ptr("Curie")})
	h.svc.CreatePatient(ctx, PatientRequest{FirstName: ptr("Niels"), LastName: ptr("Bohr")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?q=curie&limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []Patient `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 1 || !body.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", body.Total, len(body.Data), body.HasMore)
	}
}

func TestHandler_LoginSetsCookie(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	if _, err := h.users.CreateUser(ctx, UserRequest{Username: ptr("nurse"), Password: ptr("password123"), Role: ptr("Staff")}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"nurse","password":"password123"}`), rec)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res LoginResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Token == "" || res.User == nil || res.User.Username != "nurse" {
		t.Errorf("unexpected login result %+v", res)
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Error("password hash must not be serialized")
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), auth.SessionCookie+"="+res.Token) {
		t.Errorf("expected session cookie, got %q", rec.Header().Get("Set-Cookie"))
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"username":"nurse","password":"nope-nope"}`), rec)
	if code := httpCode(t, h.Login(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHandler_DeleteUser_Self(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	admin, err := h.users.CreateUser(ctx, UserRequest{Username: ptr("root"), Password: ptr("password123"), Role: ptr("Admin")})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	req := asAdmin(httptest.NewRequest(http.MethodDelete, "/", nil), admin.ID)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(admin.ID.String())
	if code := httpCode(t, h.DeleteUser(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_Tables(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	h.users.CreateUser(ctx, UserRequest{Username: ptr("root"), Password: ptr("password123"), Role: ptr("Admin")})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/admin/tables", nil), rec)
	if err := h.Tables(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("bcrypt hash leaked into table dump")
	}
	if !strings.Contains(rec.Body.String(), MaskedPassword) {
		t.Error("expected masked password in table dump")
	}
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	h, e := newTestHandler()
	gate := auth.NewGate(auth.NewMemorySessionStore(), nil, time.Hour)
	api := e.Group("/api/v1", auth.Authenticate(gate))
	h.RegisterRoutes(api)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/departments", http.StatusOK},
		{http.MethodGet, "/api/v1/patients", http.StatusForbidden},
		{http.MethodPost, "/api/v1/departments", http.StatusForbidden},
		{http.MethodGet, "/api/v1/users", http.StatusForbidden},
		{http.MethodGet, "/api/v1/auth/me", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, jsonRequest(tt.method, tt.path, `{}`))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
