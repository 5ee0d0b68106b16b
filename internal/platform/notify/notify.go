// Package notify delivers appointment lifecycle events after they commit.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an appointment lifecycle change. It doubles as the Kafka
// event_type header.
type EventType string

const (
	EventBooked        EventType = "appointment.booked"
	EventRescheduled   EventType = "appointment.rescheduled"
	EventStatusChanged EventType = "appointment.status_changed"
)

// AppointmentEvent describes one committed change to an appointment.
type AppointmentEvent struct {
	ID             string     `json:"event_id"`
	Type           EventType  `json:"event_type"`
	AppointmentID  string     `json:"appointment_id"`
	PatientID      string     `json:"patient_id"`
	PatientName    string     `json:"patient_name,omitempty"`
	DoctorID       string     `json:"doctor_id"`
	DoctorName     string     `json:"doctor_name,omitempty"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	PreviousTime   *time.Time `json:"previous_time,omitempty"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Amount         string     `json:"amount"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType) AppointmentEvent {
	return AppointmentEvent{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Notifier hands an event to its destination. Callers log failures and carry
// on; a notification never undoes the change it reports.
type Notifier interface {
	Notify(ctx context.Context, ev AppointmentEvent) error
}

// Multi fans an event out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev AppointmentEvent) error {
	var errs []string
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Recorder keeps every event in memory. Used as a test double and by the
// seed command to report what it produced.
type Recorder struct {
	mu     sync.Mutex
	events []AppointmentEvent
	// Err, when set, is returned from every Notify call after recording.
	Err error
}

func (r *Recorder) Notify(_ context.Context, ev AppointmentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []AppointmentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppointmentEvent, len(r.events))
	copy(out, r.events)
	return out
}
