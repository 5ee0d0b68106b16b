package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/clinic"
	"github.com/clinic/clinic/internal/platform/notify"
)

// Service books and changes appointments. Every call runs in one store
// transaction; events go out only after it commits.
type Service struct {
	store    clinic.Store
	notifier notify.Notifier
	policy   Policy
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store clinic.Store, notifier notify.Notifier, policy Policy, logger zerolog.Logger) *Service {
	return &Service{store: store, notifier: notifier, policy: policy, logger: logger, now: time.Now}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), clinic.ErrValidation)
}

// asReference turns a lookup miss on a referenced row into ErrReference.
func asReference(err error) error {
	if errors.Is(err, clinic.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, clinic.ErrReference)
	}
	return err
}

func (s *Service) checkTime(at time.Time) error {
	if at.IsZero() {
		return validationf("scheduled_time is required")
	}
	if !s.policy.AllowPastBookings && at.Before(s.now()) {
		return validationf("scheduled_time %s is in the past", at.Format(time.RFC3339))
	}
	return nil
}

// ensureSlotFree fails with ErrConflict when another live appointment holds
// the doctor at that instant. exclude skips the appointment being moved.
func ensureSlotFree(ctx context.Context, tx clinic.Tx, doctorID uuid.UUID, at time.Time, exclude *uuid.UUID) error {
	if err := tx.LockSlot(ctx, doctorID, at); err != nil {
		return err
	}
	taken, err := tx.ListAppointments(ctx, clinic.AppointmentFilter{
		DoctorID:  &doctorID,
		At:        &at,
		LiveOnly:  true,
		ExcludeID: exclude,
	})
	if err != nil {
		return err
	}
	if len(taken) > 0 {
		return fmt.Errorf("doctor %s is already booked at %s: %w", doctorID, at.Format(time.RFC3339), clinic.ErrConflict)
	}
	return nil
}

// BookAppointment creates a Scheduled appointment.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*clinic.Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, validationf("patient_id is required")
	}
	if req.DoctorID == uuid.Nil {
		return nil, validationf("doctor_id is required")
	}
	at := clinic.SlotTime(req.ScheduledTime)
	if err := s.checkTime(at); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, validationf("amount must not be negative")
	}
	if req.Amount.GreaterThan(maxAmount) {
		return nil, validationf("amount exceeds %s", maxAmount)
	}

	a := &clinic.Appointment{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		ScheduledTime: at,
		Status:        clinic.StatusScheduled,
		Reason:        strings.TrimSpace(req.Reason),
		Amount:        req.Amount.Round(2),
	}
	var ev notify.AppointmentEvent
	err := s.store.WithTx(ctx, func(tx clinic.Tx) error {
		if err := tx.LockSlot(ctx, a.DoctorID, a.ScheduledTime); err != nil {
			return err
		}
		patient, err := tx.GetPatient(ctx, a.PatientID)
		if err != nil {
			return asReference(err)
		}
		doctor, err := tx.GetDoctor(ctx, a.DoctorID)
		if err != nil {
			return asReference(err)
		}
		if !doctor.Available {
			return validationf("doctor %s is not available", doctor.Name)
		}
		if err := ensureSlotFree(ctx, tx, a.DoctorID, a.ScheduledTime, nil); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, a); err != nil {
			return err
		}
		ev = newEvent(notify.EventBooked, a, patient, doctor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)
	return a, nil
}

// UpdateAppointment applies a patch. Scheduled may move to Completed or
// Cancelled; both are terminal. A terminal appointment cannot be moved, and a
// cancelled one cannot be re-priced. Moving a live appointment re-checks the
// new slot.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*clinic.Appointment, error) {
	var target *clinic.Status
	if patch.Status != nil {
		st, ok := clinic.ParseStatus(*patch.Status)
		if !ok {
			return nil, validationf("unknown status %q", *patch.Status)
		}
		target = &st
	}
	if patch.Amount != nil {
		if patch.Amount.IsNegative() {
			return nil, validationf("amount must not be negative")
		}
		if patch.Amount.GreaterThan(maxAmount) {
			return nil, validationf("amount exceeds %s", maxAmount)
		}
	}

	var (
		out    *clinic.Appointment
		events []notify.AppointmentEvent
	)
	err := s.store.WithTx(ctx, func(tx clinic.Tx) error {
		a, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		before := *a
		changed := false

		if target != nil && *target != a.Status {
			if !CanTransition(a.Status, *target) {
				return fmt.Errorf("%s -> %s: %w", a.Status, *target, clinic.ErrInvalidTransition)
			}
			a.Status = *target
			changed = true
		} else if target != nil && a.Status.Terminal() {
			return fmt.Errorf("appointment is already %s: %w", a.Status, clinic.ErrInvalidTransition)
		}

		moved := false
		if patch.ScheduledTime != nil {
			at := clinic.SlotTime(*patch.ScheduledTime)
			if !at.Equal(a.ScheduledTime) {
				if before.Status.Terminal() {
					return fmt.Errorf("cannot reschedule a %s appointment: %w", before.Status, clinic.ErrInvalidTransition)
				}
				if err := s.checkTime(at); err != nil {
					return err
				}
				a.ScheduledTime = at
				moved, changed = true, true
			}
		}

		if patch.Amount != nil {
			amount := patch.Amount.Round(2)
			if !amount.Equal(a.Amount) {
				if a.Status == clinic.StatusCancelled {
					return fmt.Errorf("cannot change the amount of a cancelled appointment: %w", clinic.ErrInvalidTransition)
				}
				a.Amount = amount
				changed = true
			}
		}

		if patch.Reason != nil {
			if reason := strings.TrimSpace(*patch.Reason); reason != a.Reason {
				a.Reason = reason
				changed = true
			}
		}

		if !changed {
			out = a
			return nil
		}
		if moved && a.Status.Live() {
			if err := ensureSlotFree(ctx, tx, a.DoctorID, a.ScheduledTime, &a.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		out = a

		patient, _ := tx.GetPatient(ctx, a.PatientID)
		doctor, _ := tx.GetDoctor(ctx, a.DoctorID)
		if moved {
			ev := newEvent(notify.EventRescheduled, a, patient, doctor)
			prev := before.ScheduledTime
			ev.PreviousTime = &prev
			events = append(events, ev)
		}
		if a.Status != before.Status {
			ev := newEvent(notify.EventStatusChanged, a, patient, doctor)
			ev.PreviousStatus = string(before.Status)
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return out, nil
}

// CancelAppointment moves a Scheduled appointment to Cancelled, freeing its
// slot. Cancelling twice fails with ErrInvalidTransition.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*clinic.Appointment, error) {
	status := string(clinic.StatusCancelled)
	return s.UpdateAppointment(ctx, id, AppointmentPatch{Status: &status})
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	var out *AppointmentDetail
	err := s.store.Snapshot(ctx, func(r clinic.Reader) error {
		a, err := r.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		details, err := joinNames(ctx, r, []*clinic.Appointment{a})
		if err != nil {
			return err
		}
		out = details[0]
		return nil
	})
	return out, err
}

// ListAppointments returns matching appointments ordered by scheduled time.
func (s *Service) ListAppointments(ctx context.Context, q AppointmentQuery) ([]*AppointmentDetail, error) {
	f := clinic.AppointmentFilter{Status: q.Status, DoctorID: q.DoctorID, PatientID: q.PatientID}
	if q.Date != nil {
		from, to := dayBounds(*q.Date)
		f.From, f.To = &from, &to
	}
	var out []*AppointmentDetail
	err := s.store.Snapshot(ctx, func(r clinic.Reader) error {
		appts, err := r.ListAppointments(ctx, f)
		if err != nil {
			return err
		}
		out, err = joinNames(ctx, r, appts)
		return err
	})
	return out, err
}

func joinNames(ctx context.Context, r clinic.Reader, appts []*clinic.Appointment) ([]*AppointmentDetail, error) {
	patients := map[uuid.UUID]string{}
	doctors := map[uuid.UUID]*clinic.Doctor{}
	depts := map[uuid.UUID]string{}

	out := make([]*AppointmentDetail, 0, len(appts))
	for _, a := range appts {
		name, ok := patients[a.PatientID]
		if !ok {
			p, err := r.GetPatient(ctx, a.PatientID)
			if err != nil {
				return nil, err
			}
			name = p.FullName()
			patients[a.PatientID] = name
		}
		doc, ok := doctors[a.DoctorID]
		if !ok {
			var err error
			if doc, err = r.GetDoctor(ctx, a.DoctorID); err != nil {
				return nil, err
			}
			doctors[a.DoctorID] = doc
		}
		dept, ok := depts[doc.DepartmentID]
		if !ok {
			if d, err := r.GetDepartment(ctx, doc.DepartmentID); err == nil {
				dept = d.Name
			}
			depts[doc.DepartmentID] = dept
		}
		out = append(out, &AppointmentDetail{Appointment: a, PatientName: name, DoctorName: doc.Name, DepartmentName: dept})
	}
	return out, nil
}

// AvailableSlots returns the free grid slots of a doctor on the UTC day of
// date. An unavailable doctor has no free slots.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	if s.policy.SlotMinutes <= 0 || s.policy.CloseHour <= s.policy.OpenHour {
		return nil, fmt.Errorf("invalid slot policy %+v", s.policy)
	}
	dayStart, dayEnd := dayBounds(date)
	slots := []Slot{}
	err := s.store.Snapshot(ctx, func(r clinic.Reader) error {
		doctor, err := r.GetDoctor(ctx, doctorID)
		if err != nil {
			return err
		}
		if !doctor.Available {
			return nil
		}
		booked, err := r.ListAppointments(ctx, clinic.AppointmentFilter{
			DoctorID: &doctorID,
			LiveOnly: true,
			From:     &dayStart,
			To:       &dayEnd,
		})
		if err != nil {
			return err
		}
		taken := make(map[int64]bool, len(booked))
		for _, a := range booked {
			taken[a.ScheduledTime.Unix()] = true
		}

		step := time.Duration(s.policy.SlotMinutes) * time.Minute
		open := dayStart.Add(time.Duration(s.policy.OpenHour) * time.Hour)
		end := dayStart.Add(time.Duration(s.policy.CloseHour) * time.Hour)
		now := s.now()
		for t := open; t.Before(end); t = t.Add(step) {
			if taken[t.Unix()] {
				continue
			}
			if !s.policy.AllowPastBookings && t.Before(now) {
				continue
			}
			slots = append(slots, Slot{Start: t, End: t.Add(step)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func newEvent(t notify.EventType, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor) notify.AppointmentEvent {
	ev := notify.NewEvent(t)
	ev.AppointmentID = a.ID.String()
	ev.PatientID = a.PatientID.String()
	ev.DoctorID = a.DoctorID.String()
	ev.ScheduledTime = a.ScheduledTime
	ev.Status = string(a.Status)
	ev.Amount = a.Amount.StringFixed(2)
	if p != nil {
		ev.PatientName = p.FullName()
	}
	if d != nil {
		ev.DoctorName = d.Name
	}
	return ev
}

// publish hands an event to the notifier. Failures are logged; the change
// has already committed.
func (s *Service) publish(ctx context.Context, ev notify.AppointmentEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(ev.Type)).
			Str("appointment_id", ev.AppointmentID).
			Msg("failed to publish appointment event")
	}
}
