package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medcare/scheduling-engine/internal/metrics"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
)

// bookingKey names the lock held while a slot is being claimed.
func bookingKey(practitionerID uuid.UUID, date string, t TimeOfDay) string {
	return fmt.Sprintf("booking:%s:%s:%s", practitionerID, date, t)
}

// ValidateBooking checks a request against the calendar and current bookings
// without writing anything.
func (s *Service) ValidateBooking(ctx context.Context, req BookingRequest) error {
	if req.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner is required", ErrInvalidRequest)
	}
	date := DateOf(req.Date)
	if date.Before(s.today()) {
		return ErrPastDate
	}
	if !req.Time.Valid() || req.Time >= minutesPerDay {
		return fmt.Errorf("%w: %d is not a time of day", ErrSlotUnavailable, int(req.Time))
	}

	if s.cfg.StrictAvailability {
		windows, err := s.store.ListWindowsForDay(ctx, req.PractitionerID, WeekdayOf(date))
		if err != nil {
			return err
		}
		if !offersSlot(windows, req.Time, s.cfg.SlotDuration) {
			return ErrSlotUnavailable
		}
	}

	booked, err := s.store.LiveTimes(ctx, req.PractitionerID, date)
	if err != nil {
		return err
	}
	for _, t := range booked {
		if t == req.Time {
			return ErrSlotTaken
		}
	}
	return nil
}

// Book claims a slot. Patients book for themselves and start Pending; reception
// books on a patient's behalf and the appointment starts Approved.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	appt, err := s.book(ctx, actor, req)
	metrics.BookingsTotal.WithLabelValues(outcome(err)).Inc()
	return appt, err
}

func (s *Service) book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	var (
		status  Status
		notify  recipient
		message string
	)
	switch actor.Role {
	case RolePatient:
		if req.PatientID == uuid.Nil {
			req.PatientID = actor.ID
		}
		if req.PatientID != actor.ID {
			return nil, ErrNotAuthorized
		}
		status = StatusPending
		notify = toPractitioner
		message = "New appointment request awaiting approval"
	case RoleReception:
		if req.PatientID == uuid.Nil {
			return nil, fmt.Errorf("%w: patient is required", ErrInvalidRequest)
		}
		status = StatusApproved
		notify = toPatient | toPractitioner
		message = "Appointment booked by reception"
	default:
		return nil, ErrNotAuthorized
	}

	req.Date = DateOf(req.Date)
	req.Reason = strings.TrimSpace(req.Reason)

	var created *Appointment
	claim := func(ctx context.Context) error {
		if err := s.ValidateBooking(ctx, req); err != nil {
			return err
		}

		now := s.now()
		a := &Appointment{
			ID:             uuid.New(),
			PatientID:      req.PatientID,
			PractitionerID: req.PractitionerID,
			Date:           req.Date,
			Time:           req.Time,
			Reason:         req.Reason,
			AttachmentRef:  req.AttachmentRef,
			Status:         status,
			CreatedBy:      actor.ID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		events, err := notificationsFor(a, notify, fmt.Sprintf("%s on %s at %s", message, a.DateString(), a.Time), now)
		if err != nil {
			return err
		}
		if err := s.store.CreateAppointment(ctx, a, events); err != nil {
			return err
		}
		created = a
		return nil
	}

	if err := s.withBookingLock(ctx, req, claim); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("practitioner_id", created.PractitionerID.String()).
		Str("patient_id", created.PatientID.String()).
		Str("date", created.DateString()).
		Str("time", created.Time.String()).
		Str("status", string(created.Status)).
		Str("actor", actor.String()).
		Msg("appointment booked")
	return created, nil
}

// withBookingLock serializes claims on one slot. If the lock backend is down
// the store's live-slot constraint still rejects the second writer.
// A contender that loses the lock gets ErrSlotTaken without waiting for the
// holder's outcome, so the slot may still be free if the holder failed.
func (s *Service) withBookingLock(ctx context.Context, req BookingRequest, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	key := bookingKey(req.PractitionerID, req.Date.Format(DateLayout), req.Time)
	err := s.locker.WithLock(ctx, key, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotTaken
	case errors.Is(err, redisclient.ErrLockBackend):
		s.log.Warn().Err(err).Str("key", key).Msg("booking lock unavailable, relying on store constraint")
		return fn(ctx)
	}
	return err
}
