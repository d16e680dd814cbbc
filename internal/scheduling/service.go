package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/config"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
)

type Service struct {
	store  Store
	locker redisclient.Locker
	cfg    config.Config
	clock  Clock
	log    zerolog.Logger
}

// NewService wires the scheduling core. locker may be nil, in which case the
// store's live-slot uniqueness constraint is the only booking guard.
func NewService(store Store, locker redisclient.Locker, cfg config.Config, clock Clock, log zerolog.Logger) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	return &Service{
		store:  store,
		locker: locker,
		cfg:    cfg,
		clock:  clock,
		log:    log.With().Str("component", "scheduling").Logger(),
	}
}

func (s *Service) SlotDuration() time.Duration {
	return s.cfg.SlotDuration
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// today is the current calendar date in the configured timezone.
func (s *Service) today() time.Time {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(s.clock.Now().In(loc))
}

// GetAppointment returns an appointment visible to actor.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, appt) {
		return nil, ErrNotAuthorized
	}
	return appt, nil
}

// ListPatientAppointments lists a patient's appointments. Upcoming means on or
// after today, past means strictly before today.
func (s *Service) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, scope ListScope, limit, offset int) ([]Appointment, error) {
	if !(actor.Role == RoleReception || (actor.Role == RolePatient && actor.ID == patientID)) {
		return nil, ErrNotAuthorized
	}
	switch scope {
	case "":
		scope = ScopeAll
	case ScopeAll, ScopeUpcoming, ScopePast:
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, scope)
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.store.ListByPatient(ctx, patientID, scope, s.today(), limit, offset)
	if err != nil {
		return nil, err
	}
	return appts, nil
}

// ListPractitionerAppointments returns the practitioner's day, including
// rejected and cancelled appointments, ordered by time.
func (s *Service) ListPractitionerAppointments(ctx context.Context, actor Actor, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	if !(actor.Role == RoleReception || actor.IsPractitioner(practitionerID)) {
		return nil, ErrNotAuthorized
	}
	return s.store.ListByPractitionerOnDate(ctx, practitionerID, DateOf(date))
}

func canView(actor Actor, a *Appointment) bool {
	switch actor.Role {
	case RoleReception:
		return true
	case RolePatient:
		return a.PatientID == actor.ID
	case RolePractitioner:
		return a.PractitionerID == actor.ID
	}
	return false
}

// outcome turns an operation result into a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidSlotDuration):
		return "invalid"
	case errors.Is(err, ErrOverlap):
		return "overlap"
	case errors.Is(err, ErrWindowNotFound), errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrPastDate):
		return "past_date"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case IsStorageError(err):
		return "storage_error"
	}
	return "error"
}
