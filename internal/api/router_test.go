package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/db"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type testServer struct {
	handler      http.Handler
	tokens       *auth.Tokens
	practitioner scheduling.Actor
	patient      scheduling.Actor
	reception    scheduling.Actor
}

func newTestServer(t *testing.T, redis Pinger) *testServer {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store, err := scheduling.NewSQLiteStore(ctx, sqlDB)
	require.NoError(t, err)

	cfg := config.Default()
	clock := scheduling.FixedClock(time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC))
	svc := scheduling.NewService(store, redisclient.NewLocalLocker(), cfg, clock, zerolog.Nop())
	tokens := auth.NewTokens(cfg.JWTSecret)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:   svc,
			Tokens:    tokens,
			StoreName: "sqlite",
			Store:     store,
			Redis:     redis,
			Logger:    zerolog.Nop(),
			Env:       "test",
			Version:   "dev",
		}),
		tokens:       tokens,
		practitioner: scheduling.Practitioner(uuid.New()),
		patient:      scheduling.Patient(uuid.New()),
		reception:    scheduling.Reception(uuid.New()),
	}
}

func (s *testServer) do(t *testing.T, actor *scheduling.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := s.tokens.Issue(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	pid := s.practitioner.ID.String()

	rec := s.do(t, &s.practitioner, http.MethodPost, "/practitioners/"+pid+"/availability", map[string]any{
		"day_of_week": 0, "start_time": "09:00", "end_time": "11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	win := decode[WindowResponse](t, rec)
	assert.Equal(t, "Monday", win.DayName)

	rec = s.do(t, &s.practitioner, http.MethodPost, "/practitioners/"+pid+"/availability", map[string]any{
		"day_of_week": 0, "start_time": "10:00", "end_time": "12:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &s.patient, http.MethodGet, "/practitioners/"+pid+"/slots?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[ListResponse[SlotResponse]](t, rec)
	require.Equal(t, 4, slots.Count)
	assert.Equal(t, "09:00", slots.Items[0].Time.String())

	booking := map[string]any{
		"practitioner_id": pid, "date": "2026-03-02", "time": "09:30", "reason": "follow-up",
	}
	rec = s.do(t, &s.patient, http.MethodPost, "/appointments", booking)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", appt.Status)
	assert.Equal(t, "2026-03-02", appt.Date)

	booking["patient_id"] = uuid.NewString()
	rec = s.do(t, &s.reception, http.MethodPost, "/appointments", booking)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decode[ErrorResponse](t, rec).Error)

	id := appt.ID.String()
	rec = s.do(t, &s.reception, http.MethodPost, "/appointments/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, &s.practitioner, http.MethodPost, "/appointments/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, &s.reception, http.MethodPost, "/appointments/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.patient, http.MethodGet, "/patients/"+s.patient.ID.String()+"/appointments?scope=upcoming", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListResponse[AppointmentResponse]](t, rec).Count)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	pid := s.practitioner.ID.String()

	rec := s.do(t, nil, http.MethodGet, "/practitioners/"+pid+"/availability", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, &s.patient, http.MethodPost, "/practitioners/"+pid+"/availability", map[string]any{
		"day_of_week": 0, "start_time": "09:00", "end_time": "11:00",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.practitioner, http.MethodPost, "/practitioners/"+pid+"/availability", map[string]any{
		"day_of_week": 0, "start_time": "11:00", "end_time": "09:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.patient, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": pid, "date": "2026-02-23", "time": "09:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "past_date", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.patient, http.MethodPost, "/appointments", map[string]any{
		"practitioner_id": pid, "date": "2026-03-02", "time": "09:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.reception, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &s.reception, http.MethodPost, "/appointments/"+uuid.NewString()+"/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &s.reception, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadiness(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
	assert.Equal(t, "ok", ready.Dependencies["sqlite"])

	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	s = newTestServer(t, down)
	rec = s.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)

	rec = s.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, nil, http.MethodGet, "/health/live", nil)

	rec := s.do(t, nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduling_http_requests_total")
}

func TestEveryListedSlotIsBookable(t *testing.T) {
	s := newTestServer(t, nil)
	pid := s.practitioner.ID.String()

	rec := s.do(t, &s.practitioner, http.MethodPost, "/practitioners/"+pid+"/availability", map[string]any{
		"day_of_week": 0, "start_time": "09:00", "end_time": "11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, &s.patient, http.MethodGet, "/practitioners/"+pid+"/slots?date=2026-03-02&duration=15m", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_duration", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, &s.patient, http.MethodGet, "/practitioners/"+pid+"/slots?date=2026-03-02&duration=30m", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[ListResponse[SlotResponse]](t, rec)
	require.Equal(t, 4, slots.Count)

	for _, slot := range slots.Items {
		rec = s.do(t, &s.reception, http.MethodPost, "/appointments", map[string]any{
			"practitioner_id": pid,
			"patient_id":      uuid.NewString(),
			"date":            slot.Date,
			"time":            slot.Time.String(),
		})
		assert.Equal(t, http.StatusCreated, rec.Code, slot.Time.String()+": "+rec.Body.String())
	}

	rec = s.do(t, &s.patient, http.MethodGet, "/practitioners/"+pid+"/slots?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ListResponse[SlotResponse]](t, rec).Count)
}
