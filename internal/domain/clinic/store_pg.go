package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the PostgreSQL Store. Slot uniqueness, username uniqueness and
// active department name uniqueness are enforced by indexes; violations come
// back as ErrConflict, dangling foreign keys as ErrReference.
type PGStore struct {
	pgView
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pgView: pgView{q: pool}, pool: pool}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{pgView{q: tx}})
	})
}

func (s *PGStore) Snapshot(ctx context.Context, fn func(r Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return db.WithTx(ctx, s.pool, opts, func(tx pgx.Tx) error {
		return fn(pgView{q: tx})
	})
}

func (s *PGStore) Tables(ctx context.Context, rowLimit int) ([]TableDump, error) {
	var dumps []TableDump
	err := s.Snapshot(ctx, func(r Reader) error {
		q := r.(pgView).q
		for _, name := range tableNames {
			cols := tableColumns[name]
			dump := TableDump{Name: name, Columns: cols, Rows: []map[string]any{}}
			if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM `+name).Scan(&dump.Count); err != nil {
				return fmt.Errorf("count %s: %w", name, err)
			}
			rows, err := q.Query(ctx, `SELECT `+strings.Join(cols, "::text, ")+`::text FROM `+name+
				` ORDER BY created_at DESC LIMIT $1`, rowLimit)
			if err != nil {
				return fmt.Errorf("dump %s: %w", name, err)
			}
			for rows.Next() {
				vals, err := rows.Values()
				if err != nil {
					rows.Close()
					return err
				}
				row := make(map[string]any, len(cols))
				for i, c := range cols {
					row[c] = vals[i]
				}
				if _, ok := row["password_hash"]; ok {
					row["password_hash"] = MaskedPassword
				}
				dump.Rows = append(dump.Rows, row)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			dumps = append(dumps, dump)
		}
		return nil
	})
	return dumps, err
}

// translate maps constraint violations onto domain errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrReference)
		case "23514":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrValidation)
		}
	}
	return err
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// =========== Read view ===========

type pgView struct{ q queryable }

const deptCols = `id, name, description, active, created_at`

func scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Active, &d.CreatedAt)
	return &d, err
}

func (v pgView) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	d, err := scanDepartment(v.q.QueryRow(ctx, `SELECT `+deptCols+` FROM departments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "department", id)
	}
	return d, nil
}

func (v pgView) ListDepartments(ctx context.Context, f DepartmentFilter) ([]*Department, error) {
	query := `SELECT ` + deptCols + ` FROM departments WHERE 1=1`
	var args []interface{}
	if f.ActiveOnly {
		query += ` AND active`
	}
	if f.Name != "" {
		args = append(args, f.Name)
		query += fmt.Sprintf(` AND name = $%d`, len(args))
	}
	rows, err := v.q.Query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const doctorCols = `id, name, department_id, specialization, experience_years, contact, email,
	qualification, available, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.DepartmentID, &d.Specialization, &d.ExperienceYears,
		&d.Contact, &d.Email, &d.Qualification, &d.Available, &d.CreatedAt)
	return &d, err
}

func (v pgView) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(v.q.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "doctor", id)
	}
	return d, nil
}

func (v pgView) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	query := `SELECT ` + doctorCols + ` FROM doctors WHERE 1=1`
	var args []interface{}
	if f.DepartmentID != nil {
		args = append(args, *f.DepartmentID)
		query += fmt.Sprintf(` AND department_id = $%d`, len(args))
	}
	if f.AvailableOnly {
		query += ` AND available`
	}
	rows, err := v.q.Query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const patientCols = `id, first_name, last_name, date_of_birth, gender, blood_group, contact,
	email, address, emergency_contact, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender, &p.BloodGroup,
		&p.Contact, &p.Email, &p.Address, &p.EmergencyContact, &p.CreatedAt)
	return &p, err
}

func (v pgView) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(v.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "patient", id)
	}
	return p, nil
}

func (v pgView) ListPatients(ctx context.Context, f PatientFilter) ([]*Patient, error) {
	query := `SELECT ` + patientCols + ` FROM patients WHERE 1=1`
	var args []interface{}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		query += ` AND (first_name ILIKE $1 OR last_name ILIKE $1 OR contact ILIKE $1)`
	}
	rows, err := v.q.Query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

const apptCols = `id, patient_id, doctor_id, scheduled_time, status, reason, amount::text,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, amount string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledTime, &status, &a.Reason, &amount,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.ScheduledTime = a.ScheduledTime.UTC()
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &a, nil
}

func (v pgView) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(v.q.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return a, nil
}

func (v pgView) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointments WHERE 1=1`
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.PatientID != nil {
		add(`patient_id = $%d`, *f.PatientID)
	}
	if f.DoctorID != nil {
		add(`doctor_id = $%d`, *f.DoctorID)
	}
	if f.Status != nil {
		add(`status = $%d`, string(*f.Status))
	}
	if f.LiveOnly {
		query += ` AND status <> 'Cancelled'`
	}
	if f.At != nil {
		add(`scheduled_time = $%d`, SlotTime(*f.At))
	}
	if f.From != nil {
		add(`scheduled_time >= $%d`, f.From.UTC())
	}
	if f.To != nil {
		add(`scheduled_time < $%d`, f.To.UTC())
	}
	if f.ExcludeID != nil {
		add(`id <> $%d`, *f.ExcludeID)
	}
	rows, err := v.q.Query(ctx, query+` ORDER BY scheduled_time, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const userCols = `id, username, full_name, email, password_hash, role, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return &u, err
}

func (v pgView) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(v.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (v pgView) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(v.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, notFound(err, "user", username)
	}
	return u, nil
}

func (v pgView) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := v.q.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// =========== Write transaction ===========

type pgTx struct{ pgView }

func (t *pgTx) InsertDepartment(ctx context.Context, d *Department) error {
	d.ID = uuid.New()
	err := t.q.QueryRow(ctx, `
		INSERT INTO departments (id, name, description, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		d.ID, d.Name, d.Description, d.Active).Scan(&d.CreatedAt)
	return translate(err)
}

func (t *pgTx) UpdateDepartment(ctx context.Context, d *Department) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE departments SET name = $2, description = $3, active = $4
		WHERE id = $1`,
		d.ID, d.Name, d.Description, d.Active)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("department %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertDoctor(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := t.q.QueryRow(ctx, `
		INSERT INTO doctors (id, name, department_id, specialization, experience_years, contact,
			email, qualification, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		d.ID, d.Name, d.DepartmentID, d.Specialization, d.ExperienceYears, d.Contact,
		d.Email, d.Qualification, d.Available).Scan(&d.CreatedAt)
	return translate(err)
}

func (t *pgTx) UpdateDoctor(ctx context.Context, d *Doctor) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE doctors SET name = $2, department_id = $3, specialization = $4, experience_years = $5,
			contact = $6, email = $7, qualification = $8, available = $9
		WHERE id = $1`,
		d.ID, d.Name, d.DepartmentID, d.Specialization, d.ExperienceYears,
		d.Contact, d.Email, d.Qualification, d.Available)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("doctor %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := t.q.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, date_of_birth, gender, blood_group,
			contact, email, address, emergency_contact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.BloodGroup,
		p.Contact, p.Email, p.Address, p.EmergencyContact).Scan(&p.CreatedAt)
	return translate(err)
}

func (t *pgTx) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, date_of_birth = $4, gender = $5,
			blood_group = $6, contact = $7, email = $8, address = $9, emergency_contact = $10
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.BloodGroup, p.Contact, p.Email, p.Address, p.EmergencyContact)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.ScheduledTime = SlotTime(a.ScheduledTime)
	err := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, scheduled_time, status, reason, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledTime, string(a.Status), a.Reason, a.Amount.String(),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	a.ScheduledTime = SlotTime(a.ScheduledTime)
	err := t.q.QueryRow(ctx, `
		UPDATE appointments SET scheduled_time = $2, status = $3, reason = $4, amount = $5::numeric,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ScheduledTime, string(a.Status), a.Reason, a.Amount.String(),
	).Scan(&a.UpdatedAt)
	if err != nil {
		return notFound(translate(err), "appointment", a.ID)
	}
	return nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := t.q.QueryRow(ctx, `
		INSERT INTO users (id, username, full_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		u.ID, u.Username, u.FullName, u.Email, u.PasswordHash, string(u.Role)).Scan(&u.CreatedAt)
	return translate(err)
}

func (t *pgTx) UpdateUser(ctx context.Context, u *User) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users SET username = $2, full_name = $3, email = $4, password_hash = $5, role = $6
		WHERE id = $1`,
		u.ID, u.Username, u.FullName, u.Email, u.PasswordHash, string(u.Role))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) error {
	key := doctorID.String() + "@" + SlotTime(at).Format(time.RFC3339)
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// adminLockKey is the advisory lock shared by every demotion and deletion of
// an Admin account.
const adminLockKey = "clinic:users:admins"

func (t *pgTx) LockAdmins(ctx context.Context) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, adminLockKey)
	return err
}
