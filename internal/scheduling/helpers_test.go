package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/db"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
)

// now is Friday 2026-02-27 08:00 UTC; the first Monday after it is 2026-03-02.
var (
	testNow    = time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC)
	nextMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc          *Service
	store        *SQLiteStore
	practitioner Actor
	patient      Actor
	reception    Actor
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewSQLiteStore(ctx, sqlDB)
	require.NoError(t, err)
	return store
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newTestStore(t)
	return &fixture{
		svc:          NewService(store, redisclient.NewLocalLocker(), cfg, FixedClock(testNow), zerolog.Nop()),
		store:        store,
		practitioner: Practitioner(uuid.New()),
		patient:      Patient(uuid.New()),
		reception:    Reception(uuid.New()),
	}
}

func tod(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// mondayMorning gives the practitioner a Monday 09:00-11:00 window.
func (f *fixture) mondayMorning(t *testing.T) *AvailabilityWindow {
	t.Helper()
	w, err := f.svc.AddWindow(context.Background(), f.practitioner, f.practitioner.ID, Monday, tod("09:00"), tod("11:00"))
	require.NoError(t, err)
	return w
}

func (f *fixture) request(date time.Time, at string) BookingRequest {
	return BookingRequest{
		PractitionerID: f.practitioner.ID,
		PatientID:      f.patient.ID,
		Date:           date,
		Time:           tod(at),
		Reason:         "checkup",
	}
}
