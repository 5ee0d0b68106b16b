package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/clinic"
)

// Aggregator computes read-only reports. Each call folds over one store
// snapshot, so a report never mixes states from before and after a write.
type Aggregator struct {
	store clinic.Store
	now   func() time.Time
}

func NewAggregator(store clinic.Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// dataset is every table a report needs, read in one snapshot.
type dataset struct {
	departments  []*clinic.Department
	doctors      []*clinic.Doctor
	patients     []*clinic.Patient
	appointments []*clinic.Appointment

	deptByID    map[uuid.UUID]*clinic.Department
	deptLabel   map[uuid.UUID]string
	doctorByID  map[uuid.UUID]*clinic.Doctor
	patientByID map[uuid.UUID]*clinic.Patient
}

func (a *Aggregator) load(ctx context.Context) (*dataset, error) {
	ds := &dataset{}
	err := a.store.Snapshot(ctx, func(r clinic.Reader) error {
		var err error
		if ds.departments, err = r.ListDepartments(ctx, clinic.DepartmentFilter{}); err != nil {
			return err
		}
		if ds.doctors, err = r.ListDoctors(ctx, clinic.DoctorFilter{}); err != nil {
			return err
		}
		if ds.patients, err = r.ListPatients(ctx, clinic.PatientFilter{}); err != nil {
			return err
		}
		ds.appointments, err = r.ListAppointments(ctx, clinic.AppointmentFilter{})
		return err
	})
	if err != nil {
		return nil, err
	}

	ds.deptByID = make(map[uuid.UUID]*clinic.Department, len(ds.departments))
	for _, d := range ds.departments {
		ds.deptByID[d.ID] = d
	}
	ds.deptLabel = departmentLabels(ds.departments)
	ds.doctorByID = make(map[uuid.UUID]*clinic.Doctor, len(ds.doctors))
	for _, d := range ds.doctors {
		ds.doctorByID[d.ID] = d
	}
	ds.patientByID = make(map[uuid.UUID]*clinic.Patient, len(ds.patients))
	for _, p := range ds.patients {
		ds.patientByID[p.ID] = p
	}
	return ds, nil
}

func (ds *dataset) patientName(id uuid.UUID) string {
	if p, ok := ds.patientByID[id]; ok {
		return p.FullName()
	}
	return ""
}

func (ds *dataset) doctorName(id uuid.UUID) string {
	if d, ok := ds.doctorByID[id]; ok {
		return d.Name
	}
	return ""
}

// departmentOf attributes an appointment to its doctor's department.
func (ds *dataset) departmentOf(a *clinic.Appointment) *clinic.Department {
	doc, ok := ds.doctorByID[a.DoctorID]
	if !ok {
		return nil
	}
	return ds.deptByID[doc.DepartmentID]
}

func (ds *dataset) departmentName(a *clinic.Appointment) string {
	if d := ds.departmentOf(a); d != nil {
		return d.Name
	}
	return ""
}

// departmentKey is the by_department key for an appointment's department.
func (ds *dataset) departmentKey(a *clinic.Appointment) string {
	if d := ds.departmentOf(a); d != nil {
		return ds.deptLabel[d.ID]
	}
	return ""
}

// departmentLabels gives every department a distinct summary key. Active
// names are unique already. A retired department is labelled
// "<name> (inactive)", with its short id appended when that label is taken.
func departmentLabels(depts []*clinic.Department) map[uuid.UUID]string {
	labels := make(map[uuid.UUID]string, len(depts))
	taken := make(map[string]bool, len(depts))
	for _, d := range depts {
		if d.Active {
			labels[d.ID] = d.Name
			taken[d.Name] = true
		}
	}
	for _, d := range depts {
		if d.Active {
			continue
		}
		label := d.Name + " (inactive)"
		if taken[label] {
			label = fmt.Sprintf("%s (inactive %s)", d.Name, d.ID.String()[:8])
		}
		labels[d.ID] = label
		taken[label] = true
	}
	return labels
}

func statusCounts() map[clinic.Status]int {
	m := make(map[clinic.Status]int, len(clinic.Statuses))
	for _, s := range clinic.Statuses {
		m[s] = 0
	}
	return m
}

// newestFirst orders appointments by scheduled time, latest first.
func newestFirst(appts []*clinic.Appointment) []*clinic.Appointment {
	out := append([]*clinic.Appointment(nil), appts...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.After(out[j].ScheduledTime)
	})
	return out
}

func (a *Aggregator) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	ds, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	stats := &DashboardStats{
		TotalPatients:        len(ds.patients),
		TotalDoctors:         len(ds.doctors),
		TotalDepartments:     len(ds.departments),
		TotalAppointments:    len(ds.appointments),
		AppointmentsByStatus: statusCounts(),
		GeneratedAt:          now,
	}
	for _, appt := range ds.appointments {
		stats.AppointmentsByStatus[appt.Status]++
		if !appt.ScheduledTime.Before(dayStart) && appt.ScheduledTime.Before(dayEnd) {
			stats.TodayAppointments++
		}
		if appt.Status.Live() && appt.ScheduledTime.After(now) {
			stats.UpcomingAppointments++
		}
	}
	return stats, nil
}

func (a *Aggregator) PatientReport(ctx context.Context) (*PatientReport, error) {
	ds, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()

	counts := make(map[uuid.UUID]int, len(ds.patients))
	for _, appt := range ds.appointments {
		counts[appt.PatientID]++
	}

	report := &PatientReport{
		Patients: make([]PatientRow, 0, len(ds.patients)),
		Summary: PatientSummary{
			Total:       len(ds.patients),
			ByGender:    map[string]int{},
			BloodGroups: map[string]int{},
		},
		GeneratedAt: now.UTC(),
	}
	for _, p := range ds.patients {
		report.Patients = append(report.Patients, PatientRow{
			ID:               p.ID,
			Name:             p.FullName(),
			Gender:           p.Gender,
			BloodGroup:       p.BloodGroup,
			Contact:          p.Contact,
			Email:            p.Email,
			DateOfBirth:      p.DateOfBirth,
			Age:              p.Age(now),
			AppointmentCount: counts[p.ID],
			CreatedAt:        p.CreatedAt,
		})
		if p.Gender != "" {
			report.Summary.ByGender[p.Gender]++
		}
		bg := p.BloodGroup
		if bg == "" {
			bg = UnknownBloodGroup
		}
		report.Summary.BloodGroups[bg]++
	}
	return report, nil
}

func (a *Aggregator) AppointmentReport(ctx context.Context) (*AppointmentReport, error) {
	ds, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	report := &AppointmentReport{
		Appointments: make([]AppointmentRow, 0, len(ds.appointments)),
		Summary: AppointmentSummary{
			Total:        len(ds.appointments),
			ByStatus:     statusCounts(),
			ByDepartment: map[string]int{},
		},
		GeneratedAt: a.now().UTC(),
	}
	for _, appt := range newestFirst(ds.appointments) {
		dept := ds.departmentName(appt)
		report.Appointments = append(report.Appointments, AppointmentRow{
			ID:             appt.ID,
			PatientName:    ds.patientName(appt.PatientID),
			DoctorName:     ds.doctorName(appt.DoctorID),
			DepartmentName: dept,
			ScheduledTime:  appt.ScheduledTime,
			Status:         appt.Status,
			Reason:         appt.Reason,
			Amount:         appt.Amount,
			CreatedAt:      appt.CreatedAt,
		})
		report.Summary.ByStatus[appt.Status]++
		report.Summary.ByDepartment[ds.departmentKey(appt)]++
	}
	return report, nil
}

// DepartmentReport lists every department, inactive ones included, in name
// order.
func (a *Aggregator) DepartmentReport(ctx context.Context) (*DepartmentReport, error) {
	ds, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	rows := make(map[uuid.UUID]*DepartmentRow, len(ds.departments))
	for _, d := range ds.departments {
		rows[d.ID] = &DepartmentRow{ID: d.ID, Department: d.Name, Active: d.Active}
	}
	for _, doc := range ds.doctors {
		if row, ok := rows[doc.DepartmentID]; ok {
			row.DoctorCount++
		}
	}
	for _, appt := range ds.appointments {
		d := ds.departmentOf(appt)
		if d == nil {
			continue
		}
		row := rows[d.ID]
		row.TotalAppointments++
		if appt.Status.Live() {
			row.LiveAppointments++
		}
		switch appt.Status {
		case clinic.StatusCompleted:
			row.CompletedAppointments++
		case clinic.StatusCancelled:
			row.CancelledAppointments++
		}
	}

	report := &DepartmentReport{
		Departments: make([]DepartmentRow, 0, len(rows)),
		Summary: DepartmentSummary{
			TotalDepartments: len(ds.departments),
			TotalDoctors:     len(ds.doctors),
		},
		GeneratedAt: a.now().UTC(),
	}
	for _, d := range ds.departments {
		report.Departments = append(report.Departments, *rows[d.ID])
	}
	sort.SliceStable(report.Departments, func(i, j int) bool {
		return report.Departments[i].Department < report.Departments[j].Department
	})
	return report, nil
}

// FinancialReport sums appointment amounts exactly. Completed counts as
// collected and Scheduled as pending. Cancelled value is reported on its own
// and is not part of total_billed.
func (a *Aggregator) FinancialReport(ctx context.Context) (*FinancialReport, error) {
	ds, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	sum := FinancialSummary{
		TotalBilled:    decimal.Zero,
		Collected:      decimal.Zero,
		Pending:        decimal.Zero,
		CancelledValue: decimal.Zero,
		TotalRecords:   len(ds.appointments),
		ByDepartment:   map[string]DepartmentRevenue{},
	}
	records := make([]BillingRecord, 0, len(ds.appointments))
	for _, appt := range newestFirst(ds.appointments) {
		dept := ds.departmentName(appt)
		doctor := ds.doctorName(appt.DoctorID)
		records = append(records, BillingRecord{
			ID:            appt.ID,
			PatientName:   ds.patientName(appt.PatientID),
			ServiceName:   "Consultation: " + doctor,
			Department:    dept,
			ScheduledTime: appt.ScheduledTime,
			Status:        appt.Status,
			Amount:        appt.Amount,
		})

		key := ds.departmentKey(appt)
		rev, ok := sum.ByDepartment[key]
		if !ok {
			rev = DepartmentRevenue{Collected: decimal.Zero, Pending: decimal.Zero}
		}
		switch appt.Status {
		case clinic.StatusCompleted:
			sum.Collected = sum.Collected.Add(appt.Amount)
			rev.Collected = rev.Collected.Add(appt.Amount)
		case clinic.StatusScheduled:
			sum.Pending = sum.Pending.Add(appt.Amount)
			rev.Pending = rev.Pending.Add(appt.Amount)
		case clinic.StatusCancelled:
			sum.CancelledValue = sum.CancelledValue.Add(appt.Amount)
		}
		sum.ByDepartment[key] = rev
	}
	sum.TotalBilled = sum.Collected.Add(sum.Pending)

	return &FinancialReport{Records: records, Summary: sum, GeneratedAt: a.now().UTC()}, nil
}
