package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/clinic"
)

// Policy holds the clinic's booking rules.
type Policy struct {
	// AllowPastBookings accepts appointments at instants already gone, for
	// back-filling paper records.
	AllowPastBookings bool
	// OpenHour and CloseHour bound the daily slot grid in UTC hours;
	// CloseHour is exclusive.
	OpenHour    int
	CloseHour   int
	SlotMinutes int
}

func DefaultPolicy() Policy {
	return Policy{AllowPastBookings: true, OpenHour: 9, CloseHour: 17, SlotMinutes: 30}
}

// maxAmount is the largest value that fits NUMERIC(12,2).
var maxAmount = decimal.RequireFromString("9999999999.99")

type BookingRequest struct {
	PatientID     uuid.UUID       `json:"patient_id"`
	DoctorID      uuid.UUID       `json:"doctor_id"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

// AppointmentPatch changes an appointment. Nil fields are left unchanged.
type AppointmentPatch struct {
	Status        *string          `json:"status"`
	ScheduledTime *time.Time       `json:"scheduled_time"`
	Amount        *decimal.Decimal `json:"amount"`
	Reason        *string          `json:"reason"`
}

// AppointmentQuery filters the appointment list. Date selects one UTC day.
type AppointmentQuery struct {
	Status    *clinic.Status
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *time.Time
}

// AppointmentDetail is an appointment joined with the names a front desk
// needs to read it.
type AppointmentDetail struct {
	*clinic.Appointment
	PatientName    string `json:"patient_name"`
	DoctorName     string `json:"doctor_name"`
	DepartmentName string `json:"department_name,omitempty"`
}

// Slot is one bookable interval on a doctor's day.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// legalTransitions lists the successors of each status. Completed and
// Cancelled have none.
var legalTransitions = map[clinic.Status][]clinic.Status{
	clinic.StatusScheduled: {clinic.StatusCompleted, clinic.StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to clinic.Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
