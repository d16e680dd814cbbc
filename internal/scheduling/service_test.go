package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPatientAppointmentsScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// seed directly so a past appointment can exist
	lastMonday := nextMonday.AddDate(0, 0, -7)
	for _, a := range []struct {
		date time.Time
		at   string
	}{
		{lastMonday, "09:00"},
		{nextMonday, "10:00"},
		{nextMonday, "09:00"},
		{nextMonday.AddDate(0, 0, 7), "09:00"},
	} {
		appt := &Appointment{
			ID:             uuid.New(),
			PatientID:      f.patient.ID,
			PractitionerID: f.practitioner.ID,
			Date:           a.date,
			Time:           tod(a.at),
			Status:         StatusApproved,
			CreatedBy:      f.reception.ID,
			CreatedAt:      testNow,
			UpdatedAt:      testNow,
		}
		require.NoError(t, f.store.CreateAppointment(ctx, appt, nil))
	}

	upcoming, err := f.svc.ListPatientAppointments(ctx, f.patient, f.patient.ID, ScopeUpcoming, 0, 0)
	require.NoError(t, err)
	require.Len(t, upcoming, 3)
	assert.Equal(t, "2026-03-02", upcoming[0].DateString())
	assert.Equal(t, tod("09:00"), upcoming[0].Time)
	assert.Equal(t, tod("10:00"), upcoming[1].Time)

	past, err := f.svc.ListPatientAppointments(ctx, f.patient, f.patient.ID, ScopePast, 0, 0)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, "2026-02-23", past[0].DateString())

	all, err := f.svc.ListPatientAppointments(ctx, f.reception, f.patient.ID, "", 2, 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2026-03-02", all[0].DateString())

	_, err = f.svc.ListPatientAppointments(ctx, f.patient, f.patient.ID, ListScope("soon"), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReadAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	appt, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)

	stranger := Patient(uuid.New())
	_, err = f.svc.GetAppointment(ctx, stranger, appt.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.svc.GetAppointment(ctx, Practitioner(uuid.New()), appt.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.svc.GetAppointment(ctx, f.practitioner, appt.ID)
	assert.NoError(t, err)

	_, err = f.svc.ListPatientAppointments(ctx, stranger, f.patient.ID, ScopeAll, 10, 0)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.svc.ListPractitionerAppointments(ctx, f.patient, f.practitioner.ID, nextMonday)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	day, err := f.svc.ListPractitionerAppointments(ctx, f.practitioner, f.practitioner.ID, nextMonday)
	require.NoError(t, err)
	assert.Len(t, day, 1)
}

func TestPractitionerDayIncludesInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	first, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, first.ID, ActionReject, f.practitioner)
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, f.reception, f.request(nextMonday, "09:00"))
	require.NoError(t, err)

	day, err := f.svc.ListPractitionerAppointments(ctx, f.reception, f.practitioner.ID, nextMonday)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.ElementsMatch(t, []Status{StatusRejected, StatusApproved}, []Status{day[0].Status, day[1].Status})
}

func TestOutboxMarkPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	_, err := f.svc.Book(ctx, f.reception, f.request(nextMonday, "09:00"))
	require.NoError(t, err)

	events, err := f.store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].AppointmentID)

	require.NoError(t, f.store.MarkEventsPublished(ctx, []int64{events[0].ID}, testNow))

	rest, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, events[0].ID, rest[0].ID)
}

func TestStorePing(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}
