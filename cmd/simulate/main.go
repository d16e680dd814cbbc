package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/logging"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	Practitioners   int
	Patients        int
	Days            int
	JWTSecret       string
}

type simActor struct {
	scheduling.Actor
	token string
}

type bookedAppointment struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
}

type DataPool struct {
	Reception     simActor
	Practitioners []simActor
	Patients      []simActor
	Dates         []string

	mu           sync.RWMutex
	appointments []bookedAppointment
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) practitioner(id uuid.UUID) simActor {
	for _, p := range dp.Practitioners {
		if p.ID == id {
			return p
		}
	}
	return simActor{}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Booking          OperationMetrics
	Transition       OperationMetrics
	ReadByID         OperationMetrics
	ListByPatient    OperationMetrics
	PractitionerDay  OperationMetrics
	SlotQueries      OperationMetrics
	DoubleBookings   int
	LiveAppointments int
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("transition", cfg.TransitionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sim.pool, err = sim.preparePool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("prepare data pool")
	}
	log.Info().
		Int("practitioners", len(sim.pool.Practitioners)).
		Int("patients", len(sim.pool.Patients)).
		Strs("dates", sim.pool.Dates).
		Msg("data pool ready")

	sim.Run()

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), time.Minute)
	defer verifyCancel()
	if err := sim.Verify(verifyCtx); err != nil {
		log.Error().Err(err).Msg("verification failed")
	}

	sim.PrintReport()
	if sim.metrics.DoubleBookings > 0 {
		os.Exit(2)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		Practitioners:   getInt("SIM_PRACTITIONERS", 3),
		Patients:        getInt("SIM_PATIENTS", 200),
		Days:            getInt("SIM_DAYS", 3),
		JWTSecret:       base.JWTSecret,
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Practitioners <= 0 || cfg.Patients <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_PRACTITIONERS, SIM_PATIENTS and SIM_DAYS must be > 0")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint simulator tokens")
	}
	return nil
}

// preparePool mints tokens for every simulated actor and opens weekday
// morning clinics for the practitioners through the API.
func (s *Simulator) preparePool(ctx context.Context) (*DataPool, error) {
	tokens := auth.NewTokens(s.config.JWTSecret)
	mint := func(a scheduling.Actor) (simActor, error) {
		tok, err := tokens.Issue(a, s.config.Duration+time.Hour)
		return simActor{Actor: a, token: tok}, err
	}

	pool := &DataPool{}
	var err error
	if pool.Reception, err = mint(scheduling.Reception(uuid.New())); err != nil {
		return nil, err
	}

	for i := 0; i < s.config.Practitioners; i++ {
		doc, err := mint(scheduling.Practitioner(uuid.New()))
		if err != nil {
			return nil, err
		}
		for day := scheduling.Monday; day <= scheduling.Friday; day++ {
			body := map[string]any{"day_of_week": int(day), "start_time": "09:00", "end_time": "12:00"}
			status, _, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/practitioners/%s/availability", doc.ID), doc.token, body)
			if err != nil {
				return nil, fmt.Errorf("add window: %w", err)
			}
			if status != http.StatusCreated && status != http.StatusConflict {
				return nil, fmt.Errorf("add window: unexpected status %d", status)
			}
		}
		pool.Practitioners = append(pool.Practitioners, doc)
	}

	for i := 0; i < s.config.Patients; i++ {
		p, err := mint(scheduling.Patient(uuid.New()))
		if err != nil {
			return nil, err
		}
		pool.Patients = append(pool.Patients, p)
	}

	for d := time.Now().AddDate(0, 0, 1); len(pool.Dates) < s.config.Days; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		pool.Dates = append(pool.Dates, d.Format(scheduling.DateLayout))
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.TransitionRatio:
			s.doTransition(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doPractitionerDay(ctx, rng)
			}
		}
	}
}

// doBooking asks for the free slots of a random practitioner and day, then
// books one of them. Workers racing for the same slot see 409s.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doc := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	status, body, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/practitioners/%s/slots?date=%s", doc.ID, date), patient.token, nil)
	s.metrics.SlotQueries.Record(time.Since(start), err == nil && status == http.StatusOK, false)
	if err != nil || status != http.StatusOK {
		return
	}

	var slots struct {
		Items []struct {
			Time string `json:"time"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &slots); err != nil || len(slots.Items) == 0 {
		return
	}
	slot := slots.Items[rng.Intn(len(slots.Items))]

	req := map[string]any{
		"practitioner_id": doc.ID.String(),
		"date":            date,
		"time":            slot.Time,
		"reason":          gofakeit.Sentence(6),
	}

	start = time.Now()
	status, body, err = s.call(ctx, http.MethodPost, "/appointments", patient.token, req)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	success := err == nil && status == http.StatusCreated
	conflict := err == nil && (status == http.StatusConflict || status == http.StatusUnprocessableEntity)
	if success {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(bookedAppointment{ID: appt.ID, PractitionerID: doc.ID, PatientID: patient.ID})
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

// doTransition drives a random appointment through its lifecycle as a role
// allowed to take each step. Steps from the wrong status come back as 409.
func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	var action string
	var actor simActor
	switch r := rng.Intn(10); {
	case r < 3:
		action, actor = "approve", s.pool.practitioner(appt.PractitionerID)
	case r < 5:
		action, actor = "approve", s.pool.Reception
	case r < 7:
		action, actor = "complete", s.pool.practitioner(appt.PractitionerID)
	case r < 8:
		action, actor = "reject", s.pool.practitioner(appt.PractitionerID)
	default:
		action, actor = "cancel", s.pool.Reception
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", appt.ID, action), actor.token, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Transition.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), s.pool.Reception.token, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadByID.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	scope := []string{"upcoming", "past", "all"}[rng.Intn(3)]

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/patients/%s/appointments?scope=%s&limit=20", patient.ID, scope), patient.token, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListByPatient.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doPractitionerDay(ctx context.Context, rng *rand.Rand) {
	doc := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/practitioners/%s/appointments?date=%s", doc.ID, date), doc.token, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.PractitionerDay.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// Verify reads every simulated practitioner day back and counts times held
// by more than one live appointment.
func (s *Simulator) Verify(ctx context.Context) error {
	for _, doc := range s.pool.Practitioners {
		for _, date := range s.pool.Dates {
			status, body, err := s.call(ctx, http.MethodGet,
				fmt.Sprintf("/practitioners/%s/appointments?date=%s", doc.ID, date), s.pool.Reception.token, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("list %s on %s: status %d", doc.ID, date, status)
			}

			var day struct {
				Items []struct {
					Time   string `json:"time"`
					Status string `json:"status"`
				} `json:"items"`
			}
			if err := json.Unmarshal(body, &day); err != nil {
				return fmt.Errorf("decode day: %w", err)
			}

			held := make(map[string]int)
			for _, a := range day.Items {
				if scheduling.Status(a.Status).IsLive() {
					held[a.Time]++
					s.metrics.LiveAppointments++
				}
			}
			for at, n := range held {
				if n > 1 {
					s.metrics.DoubleBookings += n - 1
					s.log.Error().
						Str("practitioner_id", doc.ID.String()).
						Str("date", date).
						Str("time", at).
						Int("live", n).
						Msg("slot held by more than one live appointment")
				}
			}
		}
	}
	return nil
}

func (s *Simulator) call(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Practitioners: %d  Patients: %d  Days: %d\n", len(s.pool.Practitioners), len(s.pool.Patients), len(s.pool.Dates))
	fmt.Println()

	printOperationReport("Slot queries", &s.metrics.SlotQueries)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Practitioner day", &s.metrics.PractitionerDay)

	fmt.Printf("Live appointments: %d\n", s.metrics.LiveAppointments)
	fmt.Printf("Double bookings: %d\n", s.metrics.DoubleBookings)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
