package clinic

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/auth"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// Statuses lists every appointment status in lifecycle order.
var Statuses = []Status{StatusScheduled, StatusCompleted, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Live reports whether an appointment in this status still occupies its slot.
func (s Status) Live() bool { return s != StatusCancelled }

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// ParseStatus accepts any casing of a status name.
func ParseStatus(v string) (Status, bool) {
	for _, s := range Statuses {
		if strings.EqualFold(string(s), strings.TrimSpace(v)) {
			return s, true
		}
	}
	return "", false
}

// Department maps to the departments table.
type Department struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	DepartmentID    uuid.UUID `db:"department_id" json:"department_id"`
	Specialization  string    `db:"specialization" json:"specialization,omitempty"`
	ExperienceYears int       `db:"experience_years" json:"experience_years"`
	Contact         string    `db:"contact" json:"contact,omitempty"`
	Email           string    `db:"email" json:"email,omitempty"`
	Qualification   string    `db:"qualification" json:"qualification,omitempty"`
	Available       bool      `db:"available" json:"available"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Patient maps to the patients table.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	DateOfBirth      *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender           string     `db:"gender" json:"gender,omitempty"`
	BloodGroup       string     `db:"blood_group" json:"blood_group,omitempty"`
	Contact          string     `db:"contact" json:"contact,omitempty"`
	Email            string     `db:"email" json:"email,omitempty"`
	Address          string     `db:"address" json:"address,omitempty"`
	EmergencyContact string     `db:"emergency_contact" json:"emergency_contact,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// FullName joins first and last name.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Age returns the patient's age in whole years at the given instant, or nil
// when no date of birth is recorded.
func (p *Patient) Age(at time.Time) *int {
	if p.DateOfBirth == nil {
		return nil
	}
	dob := p.DateOfBirth.UTC()
	at = at.UTC()
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return &years
}

// Appointment maps to the appointments table. ScheduledTime is always UTC.
type Appointment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	ScheduledTime time.Time       `db:"scheduled_time" json:"scheduled_time"`
	Status        Status          `db:"status" json:"status"`
	Reason        string          `db:"reason" json:"reason,omitempty"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// User maps to the users table.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	FullName     string    `db:"full_name" json:"full_name,omitempty"`
	Email        string    `db:"email" json:"email,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// -- Filters --

type DepartmentFilter struct {
	ActiveOnly bool
	Name       string // exact match
}

type DoctorFilter struct {
	DepartmentID  *uuid.UUID
	AvailableOnly bool
}

type PatientFilter struct {
	// Query matches first name, last name or contact, case-insensitively.
	Query string
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	LiveOnly  bool
	// At matches scheduled_time exactly.
	At *time.Time
	// From and To bound scheduled_time as a half-open range [From, To).
	From *time.Time
	To   *time.Time
	// ExcludeID drops one appointment from the result.
	ExcludeID *uuid.UUID
}

// Match reports whether a satisfies the filter.
func (f AppointmentFilter) Match(a *Appointment) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.LiveOnly && !a.Status.Live() {
		return false
	}
	if f.At != nil && !a.ScheduledTime.Equal(*f.At) {
		return false
	}
	if f.From != nil && a.ScheduledTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.ScheduledTime.Before(*f.To) {
		return false
	}
	if f.ExcludeID != nil && a.ID == *f.ExcludeID {
		return false
	}
	return true
}

// Match reports whether p satisfies the filter.
func (f PatientFilter) Match(p *Patient) bool {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.FirstName), q) ||
		strings.Contains(strings.ToLower(p.LastName), q) ||
		strings.Contains(strings.ToLower(p.Contact), q)
}

// Match reports whether d satisfies the filter.
func (f DoctorFilter) Match(d *Doctor) bool {
	if f.DepartmentID != nil && d.DepartmentID != *f.DepartmentID {
		return false
	}
	if f.AvailableOnly && !d.Available {
		return false
	}
	return true
}

// Match reports whether d satisfies the filter.
func (f DepartmentFilter) Match(d *Department) bool {
	if f.ActiveOnly && !d.Active {
		return false
	}
	if f.Name != "" && d.Name != f.Name {
		return false
	}
	return true
}

// SlotTime normalizes an instant to the stored precision: UTC, whole seconds.
func SlotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
