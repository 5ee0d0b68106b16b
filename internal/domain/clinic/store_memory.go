package clinic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Write transactions run under the write
// lock against a staged copy that replaces the live data only when fn
// succeeds; snapshots and plain reads share the read lock.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

type memData struct {
	departments  map[uuid.UUID]Department
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	appointments map[uuid.UUID]Appointment
	users        map[uuid.UUID]User
	// insertion order per table
	order map[string][]uuid.UUID
}

func newMemData() *memData {
	return &memData{
		departments:  make(map[uuid.UUID]Department),
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[uuid.UUID]Appointment),
		users:        make(map[uuid.UUID]User),
		order:        make(map[string][]uuid.UUID),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.departments {
		c.departments[k] = v
	}
	for k, v := range d.doctors {
		c.doctors[k] = v
	}
	for k, v := range d.patients {
		c.patients[k] = v
	}
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, ids := range d.order {
		c.order[k] = append([]uuid.UUID(nil), ids...)
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.data.clone()
	if err := fn(&memTx{memView{staged}}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(memView{s.data})
}

func (s *MemoryStore) view() (memView, func()) {
	s.mu.RLock()
	return memView{s.data}, s.mu.RUnlock
}

func (s *MemoryStore) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	v, done := s.view()
	defer done()
	return v.GetDepartment(ctx, id)
}

func (s *MemoryStore) ListDepartments(ctx context.Context, f DepartmentFilter) ([]*Department, error) {
	v, done := s.view()
	defer done()
	return v.ListDepartments(ctx, f)
}

func (s *MemoryStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	v, done := s.view()
	defer done()
	return v.GetDoctor(ctx, id)
}

func (s *MemoryStore) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	v, done := s.view()
	defer done()
	return v.ListDoctors(ctx, f)
}

func (s *MemoryStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	v, done := s.view()
	defer done()
	return v.GetPatient(ctx, id)
}

func (s *MemoryStore) ListPatients(ctx context.Context, f PatientFilter) ([]*Patient, error) {
	v, done := s.view()
	defer done()
	return v.ListPatients(ctx, f)
}

func (s *MemoryStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	v, done := s.view()
	defer done()
	return v.GetAppointment(ctx, id)
}

func (s *MemoryStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	v, done := s.view()
	defer done()
	return v.ListAppointments(ctx, f)
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	v, done := s.view()
	defer done()
	return v.GetUser(ctx, id)
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	v, done := s.view()
	defer done()
	return v.GetUserByUsername(ctx, username)
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	v, done := s.view()
	defer done()
	return v.ListUsers(ctx)
}

func (s *MemoryStore) Tables(_ context.Context, rowLimit int) ([]TableDump, error) {
	v, done := s.view()
	defer done()

	d := v.d
	dumps := make([]TableDump, len(tableNames))
	for i, name := range tableNames {
		dumps[i] = TableDump{Name: name, Columns: tableColumns[name]}
	}
	for i := range dumps {
		ids := d.order[dumps[i].Name]
		dumps[i].Count = len(ids)
		dumps[i].Rows = []map[string]any{}
		// newest first
		for j := len(ids) - 1; j >= 0 && len(dumps[i].Rows) < rowLimit; j-- {
			id := ids[j]
			var row map[string]any
			switch dumps[i].Name {
			case "appointments":
				row = appointmentRow(d.appointments[id])
			case "departments":
				row = departmentRow(d.departments[id])
			case "doctors":
				row = doctorRow(d.doctors[id])
			case "patients":
				row = patientRow(d.patients[id])
			case "users":
				row = userRow(d.users[id])
			}
			dumps[i].Rows = append(dumps[i].Rows, row)
		}
	}
	return dumps, nil
}

// -- read view --

type memView struct{ d *memData }

func (v memView) GetDepartment(_ context.Context, id uuid.UUID) (*Department, error) {
	d, ok := v.d.departments[id]
	if !ok {
		return nil, fmt.Errorf("department %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (v memView) ListDepartments(_ context.Context, f DepartmentFilter) ([]*Department, error) {
	var items []*Department
	for _, id := range v.d.order["departments"] {
		d := v.d.departments[id]
		if f.Match(&d) {
			items = append(items, &d)
		}
	}
	return items, nil
}

func (v memView) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := v.d.doctors[id]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (v memView) ListDoctors(_ context.Context, f DoctorFilter) ([]*Doctor, error) {
	var items []*Doctor
	for _, id := range v.d.order["doctors"] {
		d := v.d.doctors[id]
		if f.Match(&d) {
			items = append(items, &d)
		}
	}
	return items, nil
}

func (v memView) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := v.d.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (v memView) ListPatients(_ context.Context, f PatientFilter) ([]*Patient, error) {
	var items []*Patient
	for _, id := range v.d.order["patients"] {
		p := v.d.patients[id]
		if f.Match(&p) {
			items = append(items, &p)
		}
	}
	return items, nil
}

func (v memView) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := v.d.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (v memView) ListAppointments(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	var items []*Appointment
	for _, id := range v.d.order["appointments"] {
		a := v.d.appointments[id]
		if f.Match(&a) {
			items = append(items, &a)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ScheduledTime.Before(items[j].ScheduledTime)
	})
	return items, nil
}

func (v memView) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (v memView) GetUserByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range v.d.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

func (v memView) ListUsers(_ context.Context) ([]*User, error) {
	var items []*User
	for _, id := range v.d.order["users"] {
		u := v.d.users[id]
		items = append(items, &u)
	}
	return items, nil
}

// -- write transaction --

type memTx struct{ memView }

func (t *memTx) append(table string, id uuid.UUID) {
	t.d.order[table] = append(t.d.order[table], id)
}

func (t *memTx) departmentNameTaken(name string, except uuid.UUID) bool {
	for id, d := range t.d.departments {
		if id != except && d.Active && d.Name == name {
			return true
		}
	}
	return false
}

func (t *memTx) InsertDepartment(_ context.Context, d *Department) error {
	if d.Active && t.departmentNameTaken(d.Name, uuid.Nil) {
		return fmt.Errorf("department %q: %w", d.Name, ErrConflict)
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	t.d.departments[d.ID] = *d
	t.append("departments", d.ID)
	return nil
}

func (t *memTx) UpdateDepartment(_ context.Context, d *Department) error {
	if _, ok := t.d.departments[d.ID]; !ok {
		return fmt.Errorf("department %s: %w", d.ID, ErrNotFound)
	}
	if d.Active && t.departmentNameTaken(d.Name, d.ID) {
		return fmt.Errorf("department %q: %w", d.Name, ErrConflict)
	}
	t.d.departments[d.ID] = *d
	return nil
}

func (t *memTx) InsertDoctor(_ context.Context, d *Doctor) error {
	if _, ok := t.d.departments[d.DepartmentID]; !ok {
		return fmt.Errorf("department %s: %w", d.DepartmentID, ErrReference)
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	t.d.doctors[d.ID] = *d
	t.append("doctors", d.ID)
	return nil
}

func (t *memTx) UpdateDoctor(_ context.Context, d *Doctor) error {
	if _, ok := t.d.doctors[d.ID]; !ok {
		return fmt.Errorf("doctor %s: %w", d.ID, ErrNotFound)
	}
	if _, ok := t.d.departments[d.DepartmentID]; !ok {
		return fmt.Errorf("department %s: %w", d.DepartmentID, ErrReference)
	}
	t.d.doctors[d.ID] = *d
	return nil
}

func (t *memTx) InsertPatient(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	t.d.patients[p.ID] = *p
	t.append("patients", p.ID)
	return nil
}

func (t *memTx) UpdatePatient(_ context.Context, p *Patient) error {
	if _, ok := t.d.patients[p.ID]; !ok {
		return fmt.Errorf("patient %s: %w", p.ID, ErrNotFound)
	}
	t.d.patients[p.ID] = *p
	return nil
}

func (t *memTx) checkAppointment(a *Appointment) error {
	if _, ok := t.d.patients[a.PatientID]; !ok {
		return fmt.Errorf("patient %s: %w", a.PatientID, ErrReference)
	}
	if _, ok := t.d.doctors[a.DoctorID]; !ok {
		return fmt.Errorf("doctor %s: %w", a.DoctorID, ErrReference)
	}
	if !a.Status.Live() {
		return nil
	}
	for id, other := range t.d.appointments {
		if id != a.ID && other.DoctorID == a.DoctorID && other.Status.Live() &&
			other.ScheduledTime.Equal(a.ScheduledTime) {
			return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledTime.Format(time.RFC3339), ErrConflict)
		}
	}
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	a.ScheduledTime = SlotTime(a.ScheduledTime)
	if err := t.checkAppointment(a); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.ID = uuid.New()
	a.CreatedAt = now
	a.UpdatedAt = now
	t.d.appointments[a.ID] = *a
	t.append("appointments", a.ID)
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, ok := t.d.appointments[a.ID]; !ok {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrNotFound)
	}
	a.ScheduledTime = SlotTime(a.ScheduledTime)
	if err := t.checkAppointment(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	t.d.appointments[a.ID] = *a
	return nil
}

func (t *memTx) usernameTaken(username string, except uuid.UUID) bool {
	for id, u := range t.d.users {
		if id != except && u.Username == username {
			return true
		}
	}
	return false
}

func (t *memTx) InsertUser(_ context.Context, u *User) error {
	if t.usernameTaken(u.Username, uuid.Nil) {
		return fmt.Errorf("username %q: %w", u.Username, ErrConflict)
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now().UTC()
	t.d.users[u.ID] = *u
	t.append("users", u.ID)
	return nil
}

func (t *memTx) UpdateUser(_ context.Context, u *User) error {
	if _, ok := t.d.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	if t.usernameTaken(u.Username, u.ID) {
		return fmt.Errorf("username %q: %w", u.Username, ErrConflict)
	}
	t.d.users[u.ID] = *u
	return nil
}

func (t *memTx) DeleteUser(_ context.Context, id uuid.UUID) error {
	if _, ok := t.d.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(t.d.users, id)
	ids := t.d.order["users"]
	for i, v := range ids {
		if v == id {
			t.d.order["users"] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// LockSlot is a no-op: the whole transaction already holds the write lock.
func (t *memTx) LockSlot(context.Context, uuid.UUID, time.Time) error { return nil }

func (t *memTx) LockAdmins(context.Context) error { return nil }
