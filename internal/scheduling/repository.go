package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityTx is the view of the availability table inside a practitioner lock.
type AvailabilityTx interface {
	GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error)
	InsertWindow(ctx context.Context, w *AvailabilityWindow) error
	UpdateWindow(ctx context.Context, w *AvailabilityWindow) error
	DeleteWindow(ctx context.Context, id uuid.UUID) error
}

type AvailabilityRepository interface {
	// WithPractitionerLock runs fn in one transaction that excludes concurrent
	// availability edits for the same practitioner. fn must only use tx.
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx AvailabilityTx) error) error

	GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	// ListWindows orders by day of week, then start time.
	ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error)
	ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error)
}

type AppointmentRepository interface {
	// CreateAppointment inserts a together with its outbox events. A live
	// appointment already holding the same practitioner/date/time yields ErrSlotTaken.
	CreateAppointment(ctx context.Context, a *Appointment, events []Event) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus moves id from -> to only if it is still in from.
	// If the row exists but has moved on, it returns ErrInvalidTransition.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time, events []Event) (*Appointment, error)

	// LiveTimes returns the start times of live appointments for a practitioner on date.
	LiveTimes(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]TimeOfDay, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, scope ListScope, today time.Time, limit, offset int) ([]Appointment, error)
	ListByPractitionerOnDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error)
}

type OutboxRepository interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Store is everything the service and the relay need from persistence.
type Store interface {
	AvailabilityRepository
	AppointmentRepository
	OutboxRepository
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PgRepository)(nil)
	_ Store = (*SQLiteStore)(nil)
)
