package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for dates without a time of day.
const DateLayout = "2006-01-02"

// DepartmentRequest creates or patches a department. Nil fields are left
// unchanged on update.
type DepartmentRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type DoctorRequest struct {
	Name            *string    `json:"name"`
	DepartmentID    *uuid.UUID `json:"department_id"`
	Specialization  *string    `json:"specialization"`
	ExperienceYears *int       `json:"experience_years"`
	Contact         *string    `json:"contact"`
	Email           *string    `json:"email"`
	Qualification   *string    `json:"qualification"`
	Available       *bool      `json:"available"`
}

// PatientRequest creates or patches a patient. DateOfBirth is YYYY-MM-DD; an
// empty string clears it.
type PatientRequest struct {
	FirstName        *string `json:"first_name"`
	LastName         *string `json:"last_name"`
	DateOfBirth      *string `json:"date_of_birth"`
	Gender           *string `json:"gender"`
	BloodGroup       *string `json:"blood_group"`
	Contact          *string `json:"contact"`
	Email            *string `json:"email"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
}

// Service manages the registry: departments, doctors and patients.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// -- Department --

func (s *Service) CreateDepartment(ctx context.Context, req DepartmentRequest) (*Department, error) {
	d := &Department{Active: true}
	setTrimmed(&d.Name, req.Name)
	setTrimmed(&d.Description, req.Description)
	if d.Name == "" {
		return nil, validationf("department name is required")
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertDepartment(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	return s.store.GetDepartment(ctx, id)
}

func (s *Service) ListDepartments(ctx context.Context, f DepartmentFilter) ([]*Department, error) {
	return s.store.ListDepartments(ctx, f)
}

func (s *Service) UpdateDepartment(ctx context.Context, id uuid.UUID, req DepartmentRequest) (*Department, error) {
	var out *Department
	err := s.store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDepartment(ctx, id)
		if err != nil {
			return err
		}
		setTrimmed(&d.Name, req.Name)
		setTrimmed(&d.Description, req.Description)
		if d.Name == "" {
			return validationf("department name is required")
		}
		if err := tx.UpdateDepartment(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleDepartment flips the active flag. Deactivation marks every doctor of
// the department unavailable and frees the name for reuse; reactivation
// fails with ErrConflict when an active department has taken the name since.
func (s *Service) ToggleDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	var out *Department
	err := s.store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDepartment(ctx, id)
		if err != nil {
			return err
		}
		d.Active = !d.Active
		if err := tx.UpdateDepartment(ctx, d); err != nil {
			return err
		}
		if !d.Active {
			doctors, err := tx.ListDoctors(ctx, DoctorFilter{DepartmentID: &d.ID, AvailableOnly: true})
			if err != nil {
				return err
			}
			for _, doc := range doctors {
				doc.Available = false
				if err := tx.UpdateDoctor(ctx, doc); err != nil {
					return err
				}
			}
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Doctor --

func (s *Service) applyDoctor(ctx context.Context, tx Tx, d *Doctor, req DoctorRequest) error {
	setTrimmed(&d.Name, req.Name)
	setTrimmed(&d.Specialization, req.Specialization)
	setTrimmed(&d.Contact, req.Contact)
	setTrimmed(&d.Email, req.Email)
	setTrimmed(&d.Qualification, req.Qualification)
	if req.ExperienceYears != nil {
		d.ExperienceYears = *req.ExperienceYears
	}
	if req.Available != nil {
		d.Available = *req.Available
	}
	deptChanged := req.DepartmentID != nil && *req.DepartmentID != d.DepartmentID
	if req.DepartmentID != nil {
		d.DepartmentID = *req.DepartmentID
	}

	if d.Name == "" {
		return validationf("doctor name is required")
	}
	if d.DepartmentID == uuid.Nil {
		return validationf("department_id is required")
	}
	if d.ExperienceYears < 0 {
		return validationf("experience_years must not be negative")
	}

	if d.ID == uuid.Nil || deptChanged || (req.Available != nil && d.Available) {
		dept, err := tx.GetDepartment(ctx, d.DepartmentID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("department %s: %w", d.DepartmentID, ErrReference)
		}
		if err != nil {
			return err
		}
		if !dept.Active && d.Available {
			return validationf("department %q is inactive", dept.Name)
		}
	}
	return nil
}

func (s *Service) CreateDoctor(ctx context.Context, req DoctorRequest) (*Doctor, error) {
	d := &Doctor{Available: true}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := s.applyDoctor(ctx, tx, d, req); err != nil {
			return err
		}
		return tx.InsertDoctor(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.store.GetDoctor(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	return s.store.ListDoctors(ctx, f)
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, req DoctorRequest) (*Doctor, error) {
	var out *Doctor
	err := s.store.WithTx(ctx, func(tx Tx) error {
		d, err := tx.GetDoctor(ctx, id)
		if err != nil {
			return err
		}
		if err := s.applyDoctor(ctx, tx, d, req); err != nil {
			return err
		}
		if err := tx.UpdateDoctor(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Patient --

func (s *Service) applyPatient(p *Patient, req PatientRequest) error {
	setTrimmed(&p.FirstName, req.FirstName)
	setTrimmed(&p.LastName, req.LastName)
	setTrimmed(&p.Gender, req.Gender)
	setTrimmed(&p.BloodGroup, req.BloodGroup)
	setTrimmed(&p.Contact, req.Contact)
	setTrimmed(&p.Email, req.Email)
	setTrimmed(&p.Address, req.Address)
	setTrimmed(&p.EmergencyContact, req.EmergencyContact)

	if req.DateOfBirth != nil {
		raw := strings.TrimSpace(*req.DateOfBirth)
		if raw == "" {
			p.DateOfBirth = nil
		} else {
			dob, err := time.Parse(DateLayout, raw)
			if err != nil {
				return validationf("date_of_birth must be YYYY-MM-DD")
			}
			if dob.After(s.now()) {
				return validationf("date_of_birth is in the future")
			}
			p.DateOfBirth = &dob
		}
	}

	if p.FirstName == "" || p.LastName == "" {
		return validationf("first_name and last_name are required")
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, req PatientRequest) (*Patient, error) {
	p := &Patient{}
	if err := s.applyPatient(p, req); err != nil {
		return nil, err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertPatient(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.store.GetPatient(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, f PatientFilter) ([]*Patient, error) {
	return s.store.ListPatients(ctx, f)
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req PatientRequest) (*Patient, error) {
	var out *Patient
	err := s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		if err := s.applyPatient(p, req); err != nil {
			return err
		}
		if err := tx.UpdatePatient(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Tables dumps the newest rows of every table for the admin viewer.
func (s *Service) Tables(ctx context.Context) ([]TableDump, error) {
	return s.store.Tables(ctx, TableRowLimit)
}
