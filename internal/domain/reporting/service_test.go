package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/domain/scheduling"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store    *clinic.MemoryStore
	registry *clinic.Service
	sched    *scheduling.Service
	agg      *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := clinic.NewMemoryStore()
	return &fixture{
		store:    store,
		registry: clinic.NewService(store),
		sched:    scheduling.NewService(store, nil, scheduling.DefaultPolicy(), zerolog.Nop()),
		agg:      NewAggregator(store),
	}
}

func (f *fixture) department(t *testing.T, name string) *clinic.Department {
	t.Helper()
	d, err := f.registry.CreateDepartment(context.Background(), clinic.DepartmentRequest{Name: &name})
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}
	return d
}

func (f *fixture) doctor(t *testing.T, name string, dept uuid.UUID) *clinic.Doctor {
	t.Helper()
	d, err := f.registry.CreateDoctor(context.Background(), clinic.DoctorRequest{Name: &name, DepartmentID: &dept})
	if err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	return d
}

func (f *fixture) patient(t *testing.T, req clinic.PatientRequest) *clinic.Patient {
	t.Helper()
	p, err := f.registry.CreatePatient(context.Background(), req)
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return p
}

func (f *fixture) book(t *testing.T, p *clinic.Patient, d *clinic.Doctor, at time.Time, amount string, status string) *clinic.Appointment {
	t.Helper()
	ctx := context.Background()
	a, err := f.sched.BookAppointment(ctx, scheduling.BookingRequest{
		PatientID:     p.ID,
		DoctorID:      d.ID,
		ScheduledTime: at,
		Amount:        decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if status != "" {
		if a, err = f.sched.UpdateAppointment(ctx, a.ID, scheduling.AppointmentPatch{Status: &status}); err != nil {
			t.Fatalf("UpdateAppointment: %v", err)
		}
	}
	return a
}

var base = time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

func TestFinancialReport(t *testing.T) {
	f := newFixture(t)
	cardio := f.department(t, "Cardiology")
	neuro := f.department(t, "Neurology")
	heart := f.doctor(t, "Dr. Heart", cardio.ID)
	brain := f.doctor(t, "Dr. Brain", neuro.ID)
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Ada"), LastName: ptr("Lovelace")})

	f.book(t, p, heart, base, "100.10", "Completed")
	f.book(t, p, heart, base.Add(time.Hour), "200.20", "")
	f.book(t, p, brain, base, "300.30", "")
	f.book(t, p, brain, base.Add(time.Hour), "999.99", "Cancelled")

	report, err := f.agg.FinancialReport(context.Background())
	if err != nil {
		t.Fatalf("FinancialReport: %v", err)
	}
	s := report.Summary
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"collected", s.Collected, "100.10"},
		{"pending", s.Pending, "500.50"},
		{"cancelled_value", s.CancelledValue, "999.99"},
		{"total_billed", s.TotalBilled, "600.60"},
		{"cardiology collected", s.ByDepartment["Cardiology"].Collected, "100.10"},
		{"cardiology pending", s.ByDepartment["Cardiology"].Pending, "200.20"},
		{"neurology pending", s.ByDepartment["Neurology"].Pending, "300.30"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s: expected %s, got %s", c.name, c.want, c.got)
		}
	}
	if s.TotalRecords != 4 || len(report.Records) != 4 {
		t.Errorf("expected 4 records, got %d/%d", s.TotalRecords, len(report.Records))
	}
	if !report.Records[0].ScheduledTime.After(report.Records[3].ScheduledTime) {
		t.Error("expected records newest first")
	}
}

func TestFinancialReport_ExactDecimal(t *testing.T) {
	f := newFixture(t)
	dept := f.department(t, "General")
	doc := f.doctor(t, "Dr. Who", dept.ID)
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Rose"), LastName: ptr("Tyler")})

	for i := 0; i < 10; i++ {
		f.book(t, p, doc, base.Add(time.Duration(i)*time.Hour), "0.10", "Completed")
	}
	report, err := f.agg.FinancialReport(context.Background())
	if err != nil {
		t.Fatalf("FinancialReport: %v", err)
	}
	if !report.Summary.Collected.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected exactly 1.00, got %s", report.Summary.Collected)
	}
}

func TestFinancialReport_Empty(t *testing.T) {
	f := newFixture(t)
	report, err := f.agg.FinancialReport(context.Background())
	if err != nil {
		t.Fatalf("FinancialReport: %v", err)
	}
	if !report.Summary.TotalBilled.IsZero() || report.Records == nil {
		t.Errorf("unexpected empty report %+v", report)
	}
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	f.agg.now = func() time.Time { return now }

	dept := f.department(t, "General")
	doc := f.doctor(t, "Dr. Who", dept.ID)
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Rose"), LastName: ptr("Tyler")})

	f.book(t, p, doc, now.Add(-2*time.Hour), "10", "Completed") // today, past
	f.book(t, p, doc, now.Add(2*time.Hour), "10", "")           // today, upcoming
	f.book(t, p, doc, now.Add(3*time.Hour), "10", "Cancelled")  // today, not upcoming
	f.book(t, p, doc, now.AddDate(0, 0, 2), "10", "")           // upcoming

	stats, err := f.agg.DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if stats.TotalPatients != 1 || stats.TotalDoctors != 1 || stats.TotalDepartments != 1 || stats.TotalAppointments != 4 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if stats.TodayAppointments != 3 {
		t.Errorf("expected 3 today, got %d", stats.TodayAppointments)
	}
	if stats.UpcomingAppointments != 2 {
		t.Errorf("expected 2 upcoming, got %d", stats.UpcomingAppointments)
	}
	want := map[clinic.Status]int{clinic.StatusScheduled: 2, clinic.StatusCompleted: 1, clinic.StatusCancelled: 1}
	for s, n := range want {
		if stats.AppointmentsByStatus[s] != n {
			t.Errorf("%s: expected %d, got %d", s, n, stats.AppointmentsByStatus[s])
		}
	}
}

func TestDashboardStats_AllStatusKeysPresent(t *testing.T) {
	f := newFixture(t)
	stats, err := f.agg.DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	for _, s := range clinic.Statuses {
		if _, ok := stats.AppointmentsByStatus[s]; !ok {
			t.Errorf("missing status key %s", s)
		}
	}
}

func TestDashboardStats_CountsNewPatients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, _ := f.agg.DashboardStats(ctx)

	const n = 5
	for i := 0; i < n; i++ {
		f.patient(t, clinic.PatientRequest{FirstName: ptr("P"), LastName: ptr("Q")})
	}
	after, _ := f.agg.DashboardStats(ctx)
	if after.TotalPatients != before.TotalPatients+n {
		t.Errorf("expected %d patients, got %d", before.TotalPatients+n, after.TotalPatients)
	}
}

func TestPatientReport(t *testing.T) {
	f := newFixture(t)
	f.agg.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	dept := f.department(t, "General")
	doc := f.doctor(t, "Dr. Who", dept.ID)
	ada := f.patient(t, clinic.PatientRequest{FirstName: ptr("Ada"), LastName: ptr("King"), Gender: ptr("Female"), BloodGroup: ptr("O+"), DateOfBirth: ptr("1990-06-15")})
	f.patient(t, clinic.PatientRequest{FirstName: ptr("Alan"), LastName: ptr("Turing"), Gender: ptr("Male")})
	f.book(t, ada, doc, base, "10", "")
	f.book(t, ada, doc, base.Add(time.Hour), "10", "Cancelled")

	report, err := f.agg.PatientReport(context.Background())
	if err != nil {
		t.Fatalf("PatientReport: %v", err)
	}
	if report.Summary.Total != 2 {
		t.Errorf("expected 2 patients, got %d", report.Summary.Total)
	}
	if report.Summary.BloodGroups["O+"] != 1 || report.Summary.BloodGroups[UnknownBloodGroup] != 1 {
		t.Errorf("unexpected blood groups %v", report.Summary.BloodGroups)
	}
	if report.Summary.ByGender["Female"] != 1 || report.Summary.ByGender["Male"] != 1 {
		t.Errorf("unexpected genders %v", report.Summary.ByGender)
	}
	row := report.Patients[0]
	if row.AppointmentCount != 2 {
		t.Errorf("expected 2 appointments for Ada, got %d", row.AppointmentCount)
	}
	if row.Age == nil || *row.Age != 39 {
		t.Errorf("expected age 39, got %v", row.Age)
	}
	if report.Patients[1].Age != nil {
		t.Error("expected no age without a date of birth")
	}
}

func TestAppointmentReport(t *testing.T) {
	f := newFixture(t)
	cardio := f.department(t, "Cardiology")
	neuro := f.department(t, "Neurology")
	heart := f.doctor(t, "Dr. Heart", cardio.ID)
	brain := f.doctor(t, "Dr. Brain", neuro.ID)
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Ada"), LastName: ptr("Lovelace")})

	f.book(t, p, heart, base, "10", "")
	f.book(t, p, heart, base.Add(time.Hour), "10", "Completed")
	f.book(t, p, brain, base.Add(2*time.Hour), "10", "Cancelled")

	report, err := f.agg.AppointmentReport(context.Background())
	if err != nil {
		t.Fatalf("AppointmentReport: %v", err)
	}
	if report.Summary.Total != 3 {
		t.Errorf("expected 3, got %d", report.Summary.Total)
	}
	if report.Summary.ByDepartment["Cardiology"] != 2 || report.Summary.ByDepartment["Neurology"] != 1 {
		t.Errorf("unexpected by_department %v", report.Summary.ByDepartment)
	}
	if report.Summary.ByStatus[clinic.StatusCancelled] != 1 {
		t.Errorf("unexpected by_status %v", report.Summary.ByStatus)
	}
	first := report.Appointments[0]
	if first.DoctorName != "Dr. Brain" || first.DepartmentName != "Neurology" || first.PatientName != "Ada Lovelace" {
		t.Errorf("expected newest appointment first with joined names, got %+v", first)
	}
}

func TestDepartmentReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	surgery := f.department(t, "Surgery")
	cardio := f.department(t, "Cardiology")
	heart := f.doctor(t, "Dr. Heart", cardio.ID)
	f.doctor(t, "Dr. Valve", cardio.ID)
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Ada"), LastName: ptr("King")})

	f.book(t, p, heart, base, "10", "")
	f.book(t, p, heart, base.Add(time.Hour), "10", "Completed")
	f.book(t, p, heart, base.Add(2*time.Hour), "10", "Cancelled")
	if _, err := f.registry.ToggleDepartment(ctx, surgery.ID); err != nil {
		t.Fatalf("ToggleDepartment: %v", err)
	}

	report, err := f.agg.DepartmentReport(ctx)
	if err != nil {
		t.Fatalf("DepartmentReport: %v", err)
	}
	if len(report.Departments) != 2 || report.Departments[0].Department != "Cardiology" {
		t.Fatalf("expected departments in name order, got %+v", report.Departments)
	}
	row := report.Departments[0]
	if row.DoctorCount != 2 || row.TotalAppointments != 3 || row.LiveAppointments != 2 ||
		row.CompletedAppointments != 1 || row.CancelledAppointments != 1 {
		t.Errorf("unexpected cardiology row %+v", row)
	}
	if report.Departments[1].Active {
		t.Error("expected surgery to be inactive")
	}
	if report.Summary.TotalDepartments != 2 || report.Summary.TotalDoctors != 2 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}

func TestByDepartment_RetiredNamesakeKeptApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.patient(t, clinic.PatientRequest{FirstName: ptr("Ada"), LastName: ptr("Lovelace")})

	old := f.department(t, "Cardiology")
	oldDoc := f.doctor(t, "Dr. Old", old.ID)
	f.book(t, p, oldDoc, base, "50", "Completed")
	if _, err := f.registry.ToggleDepartment(ctx, old.ID); err != nil {
		t.Fatalf("ToggleDepartment: %v", err)
	}

	current := f.department(t, "Cardiology")
	newDoc := f.doctor(t, "Dr. New", current.ID)
	f.book(t, p, newDoc, base.Add(time.Hour), "70", "")

	appts, err := f.agg.AppointmentReport(ctx)
	if err != nil {
		t.Fatalf("AppointmentReport: %v", err)
	}
	want := map[string]int{"Cardiology": 1, "Cardiology (inactive)": 1}
	if len(appts.Summary.ByDepartment) != len(want) {
		t.Fatalf("expected %v, got %v", want, appts.Summary.ByDepartment)
	}
	for k, v := range want {
		if appts.Summary.ByDepartment[k] != v {
			t.Errorf("by_department[%q]: expected %d, got %d", k, v, appts.Summary.ByDepartment[k])
		}
	}

	fin, err := f.agg.FinancialReport(ctx)
	if err != nil {
		t.Fatalf("FinancialReport: %v", err)
	}
	if got := fin.Summary.ByDepartment["Cardiology (inactive)"].Collected.String(); got != "50" {
		t.Errorf("expected retired department to keep its 50 collected, got %s", got)
	}
	if got := fin.Summary.ByDepartment["Cardiology"].Pending.String(); got != "70" {
		t.Errorf("expected live department pending 70, got %s", got)
	}
	if got := fin.Summary.ByDepartment["Cardiology"].Collected.String(); got != "0" {
		t.Errorf("live department should not absorb retired revenue, got %s", got)
	}
}

func TestDepartmentLabels_TwoRetiredNamesakes(t *testing.T) {
	a := &clinic.Department{ID: uuid.New(), Name: "Cardiology"}
	b := &clinic.Department{ID: uuid.New(), Name: "Cardiology"}
	live := &clinic.Department{ID: uuid.New(), Name: "Cardiology", Active: true}

	labels := departmentLabels([]*clinic.Department{a, b, live})
	if labels[live.ID] != "Cardiology" || labels[a.ID] != "Cardiology (inactive)" {
		t.Errorf("unexpected labels %v", labels)
	}
	if labels[b.ID] == labels[a.ID] || labels[b.ID] == labels[live.ID] {
		t.Errorf("expected distinct labels, got %v", labels)
	}
}
