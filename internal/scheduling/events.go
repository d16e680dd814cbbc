package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventNotification         EventKind = "notification"
	EventAppointmentCompleted EventKind = "appointment.completed"
)

// Event is an outbox row. It is written in the same transaction as the change
// that produced it and relayed to collaborators afterwards.
type Event struct {
	ID            int64
	Kind          EventKind
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type Notification struct {
	RecipientUserID uuid.UUID `json:"recipient_user_id"`
	Message         string    `json:"message"`
	Link            string    `json:"link,omitempty"`
}

type CompletedAppointment struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
}

func newEvent(kind EventKind, appointmentID uuid.UUID, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	id := appointmentID
	return Event{
		Kind:          kind,
		AppointmentID: &id,
		Payload:       data,
		CreatedAt:     at,
	}, nil
}

func appointmentLink(id uuid.UUID) string {
	return "/appointments/" + id.String()
}

// recipient selects who hears about a change.
type recipient int

const (
	toPatient recipient = 1 << iota
	toPractitioner
)

func notificationsFor(a *Appointment, who recipient, message string, at time.Time) ([]Event, error) {
	var events []Event
	link := appointmentLink(a.ID)
	add := func(userID uuid.UUID) error {
		ev, err := newEvent(EventNotification, a.ID, Notification{
			RecipientUserID: userID,
			Message:         message,
			Link:            link,
		}, at)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	}
	if who&toPatient != 0 {
		if err := add(a.PatientID); err != nil {
			return nil, err
		}
	}
	if who&toPractitioner != 0 {
		if err := add(a.PractitionerID); err != nil {
			return nil, err
		}
	}
	return events, nil
}
