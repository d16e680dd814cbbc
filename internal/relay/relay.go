package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/metrics"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

// Publisher hands one event to a downstream collaborator.
type Publisher interface {
	Publish(ctx context.Context, stream string, fields map[string]any) (string, error)
}

type Config struct {
	NotificationStream string
	BillingStream      string
	BatchSize          int
}

// Relay drains the outbox. Delivery is at-least-once: an event published
// just before a crash is sent again on the next pass.
type Relay struct {
	store     scheduling.OutboxRepository
	publisher Publisher
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

func New(store scheduling.OutboxRepository, publisher Publisher, cfg Config, log zerolog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With().Str("component", "relay").Logger(),
	}
}

func (r *Relay) streamFor(kind scheduling.EventKind) (string, bool) {
	switch kind {
	case scheduling.EventNotification:
		return r.cfg.NotificationStream, true
	case scheduling.EventAppointmentCompleted:
		return r.cfg.BillingStream, true
	}
	return "", false
}

// RunOnce publishes one batch in outbox order and returns how many events it
// marked published. It stops at the first publish failure so later events
// never overtake an earlier one.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PendingEvents(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	metrics.OutboxBacklog.Set(float64(len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	done := make([]int64, 0, len(events))
	var publishErr error
	for _, ev := range events {
		stream, ok := r.streamFor(ev.Kind)
		if !ok {
			r.log.Warn().Int64("event_id", ev.ID).Str("kind", string(ev.Kind)).Msg("dropping event of unknown kind")
			metrics.OutboxPublished.WithLabelValues(string(ev.Kind), "dropped").Inc()
			done = append(done, ev.ID)
			continue
		}

		fields := map[string]any{
			"event_id":   strconv.FormatInt(ev.ID, 10),
			"kind":       string(ev.Kind),
			"payload":    string(ev.Payload),
			"created_at": ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if ev.AppointmentID != nil {
			fields["appointment_id"] = ev.AppointmentID.String()
		}

		if _, err := r.publisher.Publish(ctx, stream, fields); err != nil {
			metrics.OutboxPublished.WithLabelValues(string(ev.Kind), "error").Inc()
			publishErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		metrics.OutboxPublished.WithLabelValues(string(ev.Kind), "ok").Inc()
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		if err := r.store.MarkEventsPublished(ctx, done, r.now()); err != nil {
			return 0, fmt.Errorf("mark events published: %w", err)
		}
	}
	return len(done), publishErr
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("shutdown signal received, stopping relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.log.Error().Err(err).Int("published", n).Msg("relay run failed")
		return
	}
	if n > 0 {
		r.log.Info().Int("published", n).Dur("took", time.Since(start)).Msg("relay run complete")
	}
}
