package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reader is the read side of the entity store. Get methods return ErrNotFound
// when the id does not resolve. List methods return rows in creation order
// unless noted otherwise.
type Reader interface {
	GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error)
	ListDepartments(ctx context.Context, f DepartmentFilter) ([]*Department, error)

	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error)

	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListPatients(ctx context.Context, f PatientFilter) ([]*Patient, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointments orders by scheduled_time.
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
}

// Tx is one atomic read-write unit. Inserts assign ID and timestamps.
// Insert and update fail with ErrReference when a foreign key does not
// resolve and with ErrConflict when a uniqueness constraint is violated.
type Tx interface {
	Reader

	InsertDepartment(ctx context.Context, d *Department) error
	UpdateDepartment(ctx context.Context, d *Department) error

	InsertDoctor(ctx context.Context, d *Doctor) error
	UpdateDoctor(ctx context.Context, d *Doctor) error

	InsertPatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error

	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error

	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// LockSlot serializes writers touching the same doctor/time pair until
	// the transaction ends.
	LockSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) error
	// LockAdmins serializes writers that may remove an Admin until the
	// transaction ends.
	LockAdmins(ctx context.Context) error
}

// Store owns the five clinic tables.
type Store interface {
	Reader

	// WithTx runs fn in one transaction. Any error from fn rolls back every
	// write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Snapshot runs fn against a consistent read view that never exposes a
	// partially written transaction.
	Snapshot(ctx context.Context, fn func(r Reader) error) error

	// Tables dumps every table for the admin viewer.
	Tables(ctx context.Context, rowLimit int) ([]TableDump, error)
}

// TableDump is one table as seen by the admin viewer.
type TableDump struct {
	Name    string           `json:"name"`
	Count   int              `json:"count"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// MaskedPassword replaces password hashes in table dumps.
const MaskedPassword = "********"
