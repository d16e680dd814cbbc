package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/db"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	args := m.Called(ctx, stream, fields)
	return args.String(0), args.Error(1)
}

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// setup books one appointment through reception and completes it, leaving
// two notifications and one billing event queued.
func setup(t *testing.T) (*scheduling.SQLiteStore, *scheduling.Appointment) {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store, err := scheduling.NewSQLiteStore(ctx, sqlDB)
	require.NoError(t, err)

	clock := scheduling.FixedClock(time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC))
	svc := scheduling.NewService(store, nil, config.Default(), clock, zerolog.Nop())

	doc := scheduling.Practitioner(uuid.New())
	desk := scheduling.Reception(uuid.New())
	_, err = svc.AddWindow(ctx, doc, doc.ID, scheduling.Monday, scheduling.NewTimeOfDay(9, 0), scheduling.NewTimeOfDay(10, 0))
	require.NoError(t, err)

	appt, err := svc.Book(ctx, desk, scheduling.BookingRequest{
		PractitionerID: doc.ID,
		PatientID:      uuid.New(),
		Date:           monday,
		Time:           scheduling.NewTimeOfDay(9, 0),
	})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, appt.ID, scheduling.ActionComplete, doc)
	require.NoError(t, err)
	return store, appt
}

func newRelay(store scheduling.OutboxRepository, pub Publisher) *Relay {
	return New(store, pub, Config{NotificationStream: "notify", BillingStream: "billing", BatchSize: 10}, zerolog.Nop())
}

func TestRunOnceRoutesByKind(t *testing.T) {
	store, appt := setup(t)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "notify", mock.Anything).Return("1-0", nil).Twice()
	pub.On("Publish", mock.Anything, "billing", mock.MatchedBy(func(f map[string]any) bool {
		return f["kind"] == string(scheduling.EventAppointmentCompleted) && f["appointment_id"] == appt.ID.String()
	})).Return("2-0", nil).Once()

	n, err := newRelay(store, pub).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	pub.AssertExpectations(t)

	// nothing left
	n, err = newRelay(store, pub).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceStopsAtFirstFailure(t *testing.T) {
	store, _ := setup(t)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "notify", mock.Anything).Return("1-0", nil).Once()
	pub.On("Publish", mock.Anything, "notify", mock.Anything).Return("", errors.New("redis down")).Once()

	n, err := newRelay(store, pub).RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "failed and later events stay queued")
	pub.AssertExpectations(t)
}

func TestRunStopsOnCancel(t *testing.T) {
	store, _ := setup(t)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("1-0", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newRelay(store, pub).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, err := store.PendingEvents(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
