package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/notify"
)

type seedReport struct {
	Admin        string `json:"admin,omitempty"`
	Skipped      bool   `json:"skipped"`
	Departments  int    `json:"departments"`
	Doctors      int    `json:"doctors"`
	Patients     int    `json:"patients"`
	Appointments int    `json:"appointments"`
	Events       int    `json:"events"`
}

// adminAccount is the first Admin created when the users table is empty.
type adminAccount struct {
	Username, Password, Email string
}

func adminFromConfig(cfg *config.Config) adminAccount {
	return adminAccount{
		Username: cfg.AdminUsername,
		Password: cfg.BootstrapAdminPassword(),
		Email:    cfg.AdminEmail,
	}
}

// ensureAdmin creates the initial Admin when no user exists. It returns nil
// when accounts already exist or no password is configured.
func ensureAdmin(ctx context.Context, store clinic.Store, acct adminAccount, logger zerolog.Logger) (*clinic.User, error) {
	if acct.Password == "" {
		users, err := store.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			logger.Warn().Msg("no user accounts exist; set ADMIN_PASSWORD or run `clinic-server user create`")
		}
		return nil, nil
	}
	fullName := "System Admin"
	req := clinic.UserRequest{Username: &acct.Username, Password: &acct.Password, FullName: &fullName}
	if acct.Email != "" {
		req.Email = &acct.Email
	}
	u, err := clinic.NewUserService(store, nil, logger).EnsureAdmin(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initial admin: %w", err)
	}
	return u, nil
}

type demoDoctor struct {
	name, department, specialization, qualification string
	experience                                      int
}

var (
	demoDepartments = []struct{ name, description string }{
		{"Cardiology", "Heart and blood vessels"},
		{"Neurology", "Brain, spine and nerves"},
		{"Pediatrics", "Care for infants, children and adolescents"},
		{"General Medicine", "Primary care and referrals"},
	}
	demoDoctors = []demoDoctor{
		{"Dr. Amara Okafor", "Cardiology", "Interventional Cardiology", "MD, FACC", 14},
		{"Dr. Lukas Brandt", "Neurology", "Stroke Medicine", "MD, PhD", 9},
		{"Dr. Mei Tanaka", "Pediatrics", "Neonatology", "MD", 6},
		{"Dr. Samuel Reyes", "General Medicine", "Family Medicine", "MBBS", 21},
	}
	demoPatients = []struct{ first, last, dob, gender, blood, contact string }{
		{"Ada", "Lovelace", "1985-12-10", "Female", "O+", "555-0101"},
		{"Alan", "Turing", "1972-06-23", "Male", "A-", "555-0102"},
		{"Grace", "Hopper", "1990-12-09", "Female", "B+", "555-0103"},
		{"Edsger", "Dijkstra", "1968-05-11", "Male", "AB+", "555-0104"},
		{"Katherine", "Johnson", "2015-08-26", "Female", "", "555-0105"},
	}
)

// seedDemo creates the initial Admin when there are no users, then fills a
// store without departments with demo records and books a day of
// appointments through the scheduler. A store that already has departments
// keeps its clinical data.
func seedDemo(ctx context.Context, store clinic.Store, admin adminAccount, logger zerolog.Logger) (*seedReport, error) {
	report := &seedReport{}
	u, err := ensureAdmin(ctx, store, admin, logger)
	if err != nil {
		return nil, err
	}
	if u != nil {
		report.Admin = u.Username
	}

	existing, err := store.ListDepartments(ctx, clinic.DepartmentFilter{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		report.Skipped = true
		return report, nil
	}

	registry := clinic.NewService(store)
	events := &notify.Recorder{}
	scheduler := scheduling.NewService(store, events, scheduling.DefaultPolicy(), logger)

	departments := make(map[string]uuid.UUID, len(demoDepartments))
	for _, d := range demoDepartments {
		dept, err := registry.CreateDepartment(ctx, clinic.DepartmentRequest{Name: &d.name, Description: &d.description})
		if err != nil {
			return nil, fmt.Errorf("department %s: %w", d.name, err)
		}
		departments[d.name] = dept.ID
		report.Departments++
	}

	var doctors []*clinic.Doctor
	for _, d := range demoDoctors {
		deptID := departments[d.department]
		available := true
		doc, err := registry.CreateDoctor(ctx, clinic.DoctorRequest{
			Name:            &d.name,
			DepartmentID:    &deptID,
			Specialization:  &d.specialization,
			Qualification:   &d.qualification,
			ExperienceYears: &d.experience,
			Available:       &available,
		})
		if err != nil {
			return nil, fmt.Errorf("doctor %s: %w", d.name, err)
		}
		doctors = append(doctors, doc)
		report.Doctors++
	}

	var patients []*clinic.Patient
	for _, p := range demoPatients {
		req := clinic.PatientRequest{
			FirstName:   &p.first,
			LastName:    &p.last,
			DateOfBirth: &p.dob,
			Gender:      &p.gender,
			Contact:     &p.contact,
		}
		if p.blood != "" {
			req.BloodGroup = &p.blood
		}
		patient, err := registry.CreatePatient(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("patient %s %s: %w", p.first, p.last, err)
		}
		patients = append(patients, patient)
		report.Patients++
	}

	// One appointment per patient tomorrow, rotating through the doctors.
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
	for i, p := range patients {
		at := day.Add(time.Duration(10*60+30*i) * time.Minute)
		a, err := scheduler.BookAppointment(ctx, scheduling.BookingRequest{
			PatientID:     p.ID,
			DoctorID:      doctors[i%len(doctors)].ID,
			ScheduledTime: at,
			Amount:        decimal.NewFromInt(int64(100 + 50*i)),
			Reason:        "Initial consultation",
		})
		if err != nil {
			return nil, fmt.Errorf("appointment for %s: %w", p.FullName(), err)
		}
		report.Appointments++

		if i == 0 {
			done := string(clinic.StatusCompleted)
			if _, err := scheduler.UpdateAppointment(ctx, a.ID, scheduling.AppointmentPatch{Status: &done}); err != nil {
				return nil, fmt.Errorf("complete appointment: %w", err)
			}
		}
	}

	report.Events = len(events.Events())
	return report, nil
}
