package reporting

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/platform/auth"
)

// Handler provides HTTP handlers for the dashboard and reports.
type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard/stats", h.DashboardStats, auth.RequireRole(auth.RoleGuest))

	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleStaff))
	reportGroup.GET("/patients", h.PatientReport)
	reportGroup.GET("/appointments", h.AppointmentReport)
	reportGroup.GET("/departments", h.DepartmentReport)
	reportGroup.GET("/financial", h.FinancialReport)
}

func respond[T any](c echo.Context, v T, err error) error {
	if err != nil {
		return clinic.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DashboardStats(c echo.Context) error {
	stats, err := h.agg.DashboardStats(c.Request().Context())
	return respond(c, stats, err)
}

func (h *Handler) PatientReport(c echo.Context) error {
	report, err := h.agg.PatientReport(c.Request().Context())
	return respond(c, report, err)
}

func (h *Handler) AppointmentReport(c echo.Context) error {
	report, err := h.agg.AppointmentReport(c.Request().Context())
	return respond(c, report, err)
}

func (h *Handler) DepartmentReport(c echo.Context) error {
	report, err := h.agg.DepartmentReport(c.Request().Context())
	return respond(c, report, err)
}

func (h *Handler) FinancialReport(c echo.Context) error {
	report, err := h.agg.FinancialReport(c.Request().Context())
	return respond(c, report, err)
}
