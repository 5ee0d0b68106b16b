package reporting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/clinic"
)

// UnknownBloodGroup labels patients without a recorded blood group.
const UnknownBloodGroup = "Unknown"

type DashboardStats struct {
	TotalPatients        int                   `json:"total_patients"`
	TotalDoctors         int                   `json:"total_doctors"`
	TotalDepartments     int                   `json:"total_departments"`
	TotalAppointments    int                   `json:"total_appointments"`
	AppointmentsByStatus map[clinic.Status]int `json:"appointments_by_status"`
	TodayAppointments    int                   `json:"today_appointments"`
	UpcomingAppointments int                   `json:"upcoming_appointments"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

type PatientRow struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Gender           string     `json:"gender,omitempty"`
	BloodGroup       string     `json:"blood_group,omitempty"`
	Contact          string     `json:"contact,omitempty"`
	Email            string     `json:"email,omitempty"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Age              *int       `json:"age,omitempty"`
	AppointmentCount int        `json:"appointment_count"`
	CreatedAt        time.Time  `json:"created_at"`
}

type PatientSummary struct {
	Total       int            `json:"total"`
	ByGender    map[string]int `json:"by_gender"`
	BloodGroups map[string]int `json:"blood_groups"`
}

type PatientReport struct {
	Patients    []PatientRow   `json:"patients"`
	Summary     PatientSummary `json:"summary"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type AppointmentRow struct {
	ID             uuid.UUID       `json:"id"`
	PatientName    string          `json:"patient_name"`
	DoctorName     string          `json:"doctor_name"`
	DepartmentName string          `json:"department_name"`
	ScheduledTime  time.Time       `json:"scheduled_time"`
	Status         clinic.Status   `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

type AppointmentSummary struct {
	Total    int                   `json:"total"`
	ByStatus map[clinic.Status]int `json:"by_status"`

	// ByDepartment is keyed by department name. Retired departments are
	// suffixed with "(inactive)" so they never merge with a live namesake.
	ByDepartment map[string]int `json:"by_department"`
}

type AppointmentReport struct {
	Appointments []AppointmentRow   `json:"appointments"`
	Summary      AppointmentSummary `json:"summary"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

type DepartmentRow struct {
	ID                    uuid.UUID `json:"id"`
	Department            string    `json:"department"`
	Active                bool      `json:"active"`
	DoctorCount           int       `json:"doctor_count"`
	TotalAppointments     int       `json:"total_appointments"`
	LiveAppointments      int       `json:"live_appointments"`
	CompletedAppointments int       `json:"completed_appointments"`
	CancelledAppointments int       `json:"cancelled_appointments"`
}

type DepartmentSummary struct {
	TotalDepartments int `json:"total_departments"`
	TotalDoctors     int `json:"total_doctors"`
}

type DepartmentReport struct {
	Departments []DepartmentRow   `json:"departments"`
	Summary     DepartmentSummary `json:"summary"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// BillingRecord is one appointment as a billable line.
type BillingRecord struct {
	ID            uuid.UUID       `json:"id"`
	PatientName   string          `json:"patient_name"`
	ServiceName   string          `json:"service_name"`
	Department    string          `json:"department"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Status        clinic.Status   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
}

type DepartmentRevenue struct {
	Collected decimal.Decimal `json:"collected"`
	Pending   decimal.Decimal `json:"pending"`
}

type FinancialSummary struct {
	// TotalBilled is Collected plus Pending; cancelled value is not billed.
	TotalBilled    decimal.Decimal              `json:"total_billed"`
	Collected      decimal.Decimal              `json:"collected"`
	Pending        decimal.Decimal              `json:"pending"`
	CancelledValue decimal.Decimal              `json:"cancelled_value"`
	TotalRecords   int                          `json:"total_records"`

	// ByDepartment uses the same keys as AppointmentSummary.ByDepartment.
	ByDepartment map[string]DepartmentRevenue `json:"by_department"`
}

type FinancialReport struct {
	Records     []BillingRecord  `json:"records"`
	Summary     FinancialSummary `json:"summary"`
	GeneratedAt time.Time        `json:"generated_at"`
}
