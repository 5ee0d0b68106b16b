package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleGuest))
	read.GET("/doctors/:id/slots", h.AvailableSlots)

	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/appointments", h.ListAppointments)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.POST("/appointments", h.BookAppointment)
	staff.PUT("/appointments/:id", h.UpdateAppointment)
	staff.POST("/appointments/:id/cancel", h.CancelAppointment)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func queryDate(c echo.Context) (*time.Time, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(clinic.DateLayout, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return &d, nil
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var q AppointmentQuery
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := clinic.ParseStatus(raw)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		q.Status = &st
	}
	var err error
	if q.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if q.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if q.Date, err = queryDate(c); err != nil {
		return err
	}

	appts, err := h.svc.ListAppointments(c.Request().Context(), q)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(appts, pagination.FromContext(c)))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var patch AppointmentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, patch)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelAppointment(c.Request().Context(), id)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// AvailableSlots defaults to today when no date is given.
func (h *Handler) AvailableSlots(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	date, err := queryDate(c)
	if err != nil {
		return err
	}
	day := time.Now().UTC()
	if date != nil {
		day = *date
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), id, day)
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"doctor_id": id,
		"date":      day.Format(clinic.DateLayout),
		"slots":     slots,
	})
}
