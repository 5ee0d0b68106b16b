package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/platform/auth"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func (f *fixture) bookingBody(at time.Time) string {
	return `{"patient_id":"` + f.patient.ID.String() + `","doctor_id":"` + f.doctor.ID.String() +
		`","scheduled_time":"` + at.Format(time.RFC3339) + `","amount":"120.50"}`
}

func TestHandler_BookAppointment(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody(slot)), rec)
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var a clinic.Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Status != clinic.StatusScheduled || a.Amount.StringFixed(2) != "120.50" {
		t.Errorf("unexpected appointment %+v", a)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookingBody(slot)), httptest.NewRecorder())
	if code := httpCode(t, h.BookAppointment(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}

	body := `{"patient_id":"` + f.patient.ID.String() + `","doctor_id":"` + uuid.NewString() + `","scheduled_time":"2030-03-04T11:00:00Z"}`
	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", body), httptest.NewRecorder())
	if code := httpCode(t, h.BookAppointment(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/api/v1/appointments", `{"patient_id":"nope"}`), httptest.NewRecorder())
	if code := httpCode(t, h.BookAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CancelAppointment(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	h := NewHandler(f.svc)
	e := echo.New()
	a := f.book(t, slot, "100")

	cancel := func() error {
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(a.ID.String())
		return h.CancelAppointment(c)
	}
	if err := cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code := httpCode(t, cancel()); code != http.StatusConflict {
		t.Errorf("expected 409 cancelling twice, got %d", code)
	}
}

func TestHandler_UpdateAppointment(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	h := NewHandler(f.svc)
	e := echo.New()
	a := f.book(t, slot, "100")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"Completed","amount":"80"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.UpdateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got clinic.Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != clinic.StatusCompleted || got.Amount.StringFixed(2) != "80.00" {
		t.Errorf("unexpected appointment %+v", got)
	}

	c = e.NewContext(jsonRequest(http.MethodPut, "/", `{"status":"bogus"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if code := httpCode(t, h.UpdateAppointment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListAppointments_Filters(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	h := NewHandler(f.svc)
	e := echo.New()
	f.book(t, slot, "100")
	f.book(t, slot.AddDate(0, 0, 1), "100")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?date=2030-03-04&doctor_id="+f.doctor.ID.String(), nil), rec)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []AppointmentDetail `json:"data"`
		Total int                 `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Data[0].PatientName != "Ada Lovelace" {
		t.Errorf("unexpected page %+v", body)
	}

	for _, q := range []string{"date=04-03-2030", "status=Lost", "doctor_id=x", "patient_id=x"} {
		c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?"+q, nil), httptest.NewRecorder())
		if code := httpCode(t, h.ListAppointments(c)); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestHandler_AvailableSlots(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	h := NewHandler(f.svc)
	e := echo.New()
	f.book(t, slot, "100")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2030-03-04", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.doctor.ID.String())
	if err := h.AvailableSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Date  string `json:"date"`
		Slots []Slot `json:"slots"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Date != "2030-03-04" || len(body.Slots) != 15 {
		t.Errorf("unexpected slots response: date=%s len=%d", body.Date, len(body.Slots))
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := httpCode(t, h.AvailableSlots(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	e := echo.New()
	gate := auth.NewGate(auth.NewMemorySessionStore(), nil, time.Hour)
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1", auth.Authenticate(gate)))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/doctors/" + f.doctor.ID.String() + "/slots?date=2030-03-04", http.StatusOK},
		{http.MethodGet, "/api/v1/appointments", http.StatusForbidden},
		{http.MethodPost, "/api/v1/appointments", http.StatusForbidden},
		{http.MethodPost, "/api/v1/appointments/" + uuid.NewString() + "/cancel", http.StatusForbidden},
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
