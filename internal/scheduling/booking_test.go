package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medcare/scheduling-engine/internal/config"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, key, fn)
	return args.Error(0)
}

func TestPatientBookingStartsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	appt, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, f.patient.ID, appt.PatientID)
	assert.Equal(t, f.patient.ID, appt.CreatedBy)
	assert.Equal(t, "2026-03-02", appt.DateString())

	stored, err := f.svc.GetAppointment(ctx, f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, stored.ID)
	assert.Equal(t, tod("09:00"), stored.Time)
	assert.Equal(t, "checkup", stored.Reason)

	events, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventNotification, events[0].Kind)
	assert.Contains(t, string(events[0].Payload), f.practitioner.ID.String())
}

func TestPatientBookingDefaultsToSelf(t *testing.T) {
	f := newFixture(t)
	f.mondayMorning(t)

	req := f.request(nextMonday, "09:00")
	req.PatientID = uuid.Nil
	appt, err := f.svc.Book(context.Background(), f.patient, req)
	require.NoError(t, err)
	assert.Equal(t, f.patient.ID, appt.PatientID)
}

func TestReceptionBookingStartsApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	appt, err := f.svc.Book(ctx, f.reception, f.request(nextMonday, "10:30"))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, appt.Status)
	assert.Equal(t, f.reception.ID, appt.CreatedBy)

	events, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestBookingAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	req := f.request(nextMonday, "09:00")
	req.PatientID = uuid.New()
	_, err := f.svc.Book(ctx, f.patient, req)
	assert.ErrorIs(t, err, ErrNotAuthorized, "patient booking for someone else")

	_, err = f.svc.Book(ctx, f.practitioner, f.request(nextMonday, "09:00"))
	assert.ErrorIs(t, err, ErrNotAuthorized, "practitioner cannot book")

	req = f.request(nextMonday, "09:00")
	req.PatientID = uuid.Nil
	_, err = f.svc.Book(ctx, f.reception, req)
	assert.ErrorIs(t, err, ErrInvalidRequest, "reception must name a patient")
}

func TestBookingRejectsPastDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddWindow(ctx, f.practitioner, f.practitioner.ID, Monday, tod("09:00"), tod("11:00"))
	require.NoError(t, err)

	lastMonday := nextMonday.AddDate(0, 0, -7)
	_, err = f.svc.Book(ctx, f.patient, f.request(lastMonday, "09:00"))
	assert.ErrorIs(t, err, ErrPastDate)
}

func TestBookingTodayIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddWindow(ctx, f.practitioner, f.practitioner.ID, Friday, tod("09:00"), tod("11:00"))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.patient, f.request(testNow, "10:00"))
	assert.NoError(t, err)
}

func TestTodayFollowsConfiguredTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	f := newFixture(t, func(c *config.Config) { c.Location = tokyo })
	ctx := context.Background()
	_, err := f.svc.AddWindow(ctx, f.practitioner, f.practitioner.ID, Friday, tod("09:00"), tod("11:00"))
	require.NoError(t, err)

	// 20:00 UTC on the 27th is already the 28th in Tokyo.
	f.svc.clock = FixedClock(time.Date(2026, 2, 27, 20, 0, 0, 0, time.UTC))
	_, err = f.svc.Book(ctx, f.patient, f.request(testNow, "10:00"))
	assert.ErrorIs(t, err, ErrPastDate)
}

func TestBookingRequiresOfferedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	for _, at := range []string{"08:30", "09:15", "10:45", "11:00"} {
		_, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, at))
		assert.ErrorIs(t, err, ErrSlotUnavailable, at)
	}

	_, err := f.svc.Book(ctx, f.patient, f.request(nextMonday.AddDate(0, 0, 1), "09:00"))
	assert.ErrorIs(t, err, ErrSlotUnavailable, "no Tuesday windows")
}

func TestLenientBookingSkipsAvailability(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.StrictAvailability = false })
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "07:10"))
	require.NoError(t, err)
	assert.Equal(t, tod("07:10"), appt.Time)

	_, err = f.svc.Book(ctx, f.reception, f.request(nextMonday, "07:10"))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestDoubleBookingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	first, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.reception, f.request(nextMonday, "09:00"))
	assert.ErrorIs(t, err, ErrSlotTaken)

	stored, err := f.svc.GetAppointment(ctx, f.reception, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestRejectedSlotCanBeRebooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	first, err := f.svc.Book(ctx, f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, first.ID, ActionReject, f.reception)
	require.NoError(t, err)

	second, err := f.svc.Book(ctx, f.reception, f.request(nextMonday, "09:00"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestValidateBookingDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)

	require.NoError(t, f.svc.ValidateBooking(ctx, f.request(nextMonday, "09:00")))
	require.NoError(t, f.svc.ValidateBooking(ctx, f.request(nextMonday, "09:00")))

	appts, err := f.svc.ListPractitionerAppointments(ctx, f.practitioner, f.practitioner.ID, nextMonday)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestConcurrentBookingsOneWinner(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locker redisclient.Locker
	}{
		{"local lock", redisclient.NewLocalLocker()},
		{"store constraint only", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.locker = tc.locker
			f.mondayMorning(t)

			const racers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				failures []error
			)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Book(context.Background(), Patient(uuid.New()), BookingRequest{
						PractitionerID: f.practitioner.ID,
						Date:           nextMonday,
						Time:           tod("10:00"),
					})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
						return
					}
					failures = append(failures, err)
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			for _, err := range failures {
				assert.ErrorIs(t, err, ErrSlotTaken)
			}

			appts, err := f.svc.ListPractitionerAppointments(context.Background(), f.reception, f.practitioner.ID, nextMonday)
			require.NoError(t, err)
			assert.Len(t, appts, 1)
		})
	}
}

func TestBookingSurvivesLockBackendOutage(t *testing.T) {
	f := newFixture(t)
	f.mondayMorning(t)

	locker := &mockLocker{}
	locker.On("WithLock", mock.Anything, fmt.Sprintf("booking:%s:2026-03-02:09:00", f.practitioner.ID), mock.Anything).
		Return(fmt.Errorf("%w: connection refused", redisclient.ErrLockBackend))
	f.svc = NewService(f.store, locker, config.Default(), FixedClock(testNow), zerolog.Nop())

	appt, err := f.svc.Book(context.Background(), f.patient, f.request(nextMonday, "09:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	locker.AssertExpectations(t)

	_, err = f.svc.Book(context.Background(), f.reception, f.request(nextMonday, "09:00"))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestLockContentionIsSlotTaken(t *testing.T) {
	f := newFixture(t)
	f.mondayMorning(t)

	locker := &mockLocker{}
	locker.On("WithLock", mock.Anything, mock.Anything, mock.Anything).Return(redisclient.ErrLockNotAcquired)
	f.svc.locker = locker

	_, err := f.svc.Book(context.Background(), f.patient, f.request(nextMonday, "09:00"))
	assert.True(t, errors.Is(err, ErrSlotTaken))
}

func TestLockLoserRetriesAfterHolderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mondayMorning(t)
	req := f.request(nextMonday, "09:00")

	holderErr := errors.New("holder failed")
	err := f.svc.locker.WithLock(ctx, bookingKey(req.PractitionerID, req.Date.Format(DateLayout), req.Time), func(ctx context.Context) error {
		_, err := f.svc.Book(ctx, f.patient, req)
		assert.ErrorIs(t, err, ErrSlotTaken)
		return holderErr
	})
	require.ErrorIs(t, err, holderErr)

	appt, err := f.svc.Book(ctx, f.patient, req)
	require.NoError(t, err)
	assert.Equal(t, tod("09:00"), appt.Time)
}
