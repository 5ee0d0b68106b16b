package clinic

// TableRowLimit caps how many rows the admin viewer returns per table.
const TableRowLimit = 100

// Column lists for the admin table viewer, in storage order.
var (
	departmentColumns  = []string{"id", "name", "description", "active", "created_at"}
	doctorColumns      = []string{"id", "name", "department_id", "specialization", "experience_years", "contact", "email", "qualification", "available", "created_at"}
	patientColumns     = []string{"id", "first_name", "last_name", "date_of_birth", "gender", "blood_group", "contact", "email", "address", "emergency_contact", "created_at"}
	appointmentColumns = []string{"id", "patient_id", "doctor_id", "scheduled_time", "status", "reason", "amount", "created_at", "updated_at"}
	userColumns        = []string{"id", "username", "full_name", "email", "password_hash", "role", "created_at"}
)

var tableColumns = map[string][]string{
	"appointments": appointmentColumns,
	"departments":  departmentColumns,
	"doctors":      doctorColumns,
	"patients":     patientColumns,
	"users":        userColumns,
}

// tableNames is the fixed, ordered set of tables the viewer exposes.
var tableNames = []string{"appointments", "departments", "doctors", "patients", "users"}

func departmentRow(d Department) map[string]any {
	return map[string]any{
		"id":          d.ID,
		"name":        d.Name,
		"description": d.Description,
		"active":      d.Active,
		"created_at":  d.CreatedAt,
	}
}

func doctorRow(d Doctor) map[string]any {
	return map[string]any{
		"id":               d.ID,
		"name":             d.Name,
		"department_id":    d.DepartmentID,
		"specialization":   d.Specialization,
		"experience_years": d.ExperienceYears,
		"contact":          d.Contact,
		"email":            d.Email,
		"qualification":    d.Qualification,
		"available":        d.Available,
		"created_at":       d.CreatedAt,
	}
}

func patientRow(p Patient) map[string]any {
	return map[string]any{
		"id":                p.ID,
		"first_name":        p.FirstName,
		"last_name":         p.LastName,
		"date_of_birth":     p.DateOfBirth,
		"gender":            p.Gender,
		"blood_group":       p.BloodGroup,
		"contact":           p.Contact,
		"email":             p.Email,
		"address":           p.Address,
		"emergency_contact": p.EmergencyContact,
		"created_at":        p.CreatedAt,
	}
}

func appointmentRow(a Appointment) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"patient_id":     a.PatientID,
		"doctor_id":      a.DoctorID,
		"scheduled_time": a.ScheduledTime,
		"status":         a.Status,
		"reason":         a.Reason,
		"amount":         a.Amount.StringFixed(2),
		"created_at":     a.CreatedAt,
		"updated_at":     a.UpdatedAt,
	}
}

func userRow(u User) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"username":      u.Username,
		"full_name":     u.FullName,
		"email":         u.Email,
		"password_hash": MaskedPassword,
		"role":          u.Role,
		"created_at":    u.CreatedAt,
	}
}
