package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a human-readable rendering of one event type.
type Template struct {
	Subject string
	Body    string
}

// TemplateEngine renders events with {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventType]Template
}

// NewTemplateEngine returns an engine with a template for every event type.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{templates: map[EventType]Template{
		EventBooked: {
			Subject: "Appointment booked for {{patient_name}}",
			Body:    "{{patient_name}} is booked with {{doctor_name}} on {{date}} at {{time}} UTC.",
		},
		EventRescheduled: {
			Subject: "Appointment moved for {{patient_name}}",
			Body:    "{{patient_name}}'s appointment with {{doctor_name}} moved from {{previous_date}} {{previous_time}} to {{date}} at {{time}} UTC.",
		},
		EventStatusChanged: {
			Subject: "Appointment {{status}} for {{patient_name}}",
			Body:    "{{patient_name}}'s appointment with {{doctor_name}} on {{date}} at {{time}} UTC is now {{status}}.",
		},
	}}
}

// Register adds or replaces the template for t.
func (e *TemplateEngine) Register(t EventType, tpl Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t] = tpl
}

// Render fills the template for ev.Type. Unknown placeholders are left as-is.
func (e *TemplateEngine) Render(ev AppointmentEvent) (subject, body string, err error) {
	e.mu.RLock()
	tpl, ok := e.templates[ev.Type]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("no template for event type %q", ev.Type)
	}

	data := map[string]string{
		"patient_name": orUnknown(ev.PatientName),
		"doctor_name":  orUnknown(ev.DoctorName),
		"date":         ev.ScheduledTime.UTC().Format("2006-01-02"),
		"time":         ev.ScheduledTime.UTC().Format("15:04"),
		"status":       ev.Status,
	}
	if ev.PreviousTime != nil {
		data["previous_date"] = ev.PreviousTime.UTC().Format("2006-01-02")
		data["previous_time"] = ev.PreviousTime.UTC().Format("15:04")
	}

	subject, body = tpl.Subject, tpl.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
