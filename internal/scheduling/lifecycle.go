package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/medcare/scheduling-engine/internal/metrics"
)

type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionComplete, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, s)
}

type transitionKey struct {
	from   Status
	action Action
	role   Role
}

type transitionRule struct {
	to      Status
	notify  recipient
	message string
	billing bool
}

// transitions is the whole lifecycle; anything absent is rejected.
var transitions = map[transitionKey]transitionRule{
	{StatusPending, ActionApprove, RoleReception}:      {to: StatusApproved, notify: toPatient, message: "Your appointment has been approved"},
	{StatusPending, ActionReject, RoleReception}:       {to: StatusRejected, notify: toPatient | toPractitioner, message: "Appointment request was rejected"},
	{StatusApproved, ActionCancel, RoleReception}:      {to: StatusCancelled, notify: toPatient | toPractitioner, message: "Appointment was cancelled"},
	{StatusPending, ActionApprove, RolePractitioner}:   {to: StatusApproved, notify: toPatient, message: "Your appointment has been approved"},
	{StatusPending, ActionReject, RolePractitioner}:    {to: StatusRejected, notify: toPatient, message: "Your appointment was rejected"},
	{StatusApproved, ActionReject, RolePractitioner}:   {to: StatusRejected, notify: toPatient, message: "Your appointment was rejected"},
	{StatusApproved, ActionComplete, RolePractitioner}: {to: StatusCompleted, billing: true},
}

// legalForSomeone reports whether from/action appears in the table for any role.
func legalForSomeone(from Status, action Action) bool {
	for k := range transitions {
		if k.from == from && k.action == action {
			return true
		}
	}
	return false
}

// Transition applies action to an appointment on behalf of actor. A
// practitioner may only act on their own appointments; patients never drive
// transitions. The status change and its outbox events commit together.
func (s *Service) Transition(ctx context.Context, appointmentID uuid.UUID, action Action, actor Actor) (*Appointment, error) {
	appt, err := s.transition(ctx, appointmentID, action, actor)
	metrics.TransitionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
	return appt, err
}

func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, action Action, actor Actor) (*Appointment, error) {
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if actor.Role == RolePractitioner && current.PractitionerID != actor.ID {
		return nil, ErrNotAuthorized
	}
	if !legalForSomeone(current.Status, action) {
		return nil, fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidTransition, action, current.Status)
	}
	rule, ok := transitions[transitionKey{current.Status, action, actor.Role}]
	if !ok {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	target := *current
	target.Status = rule.to
	target.UpdatedAt = now

	var events []Event
	if rule.notify != 0 {
		events, err = notificationsFor(&target, rule.notify,
			fmt.Sprintf("%s (%s at %s)", rule.message, target.DateString(), target.Time), now)
		if err != nil {
			return nil, err
		}
	}
	if rule.billing {
		ev, err := newEvent(EventAppointmentCompleted, target.ID, CompletedAppointment{
			AppointmentID:  target.ID,
			PatientID:      target.PatientID,
			PractitionerID: target.PractitionerID,
		}, now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, appointmentID, current.Status, rule.to, now, events)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("action", string(action)).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Str("actor", actor.String()).
		Msg("appointment transitioned")
	return updated, nil
}
