package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/medcare/scheduling-engine/internal/app"
	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/logging"
	redisclient "github.com/medcare/scheduling-engine/internal/redis"
	"github.com/medcare/scheduling-engine/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("outbox-relay", "dev", "info").Fatal().Err(err).Msg("config load error")
	}
	log := logging.New("outbox-relay", cfg.Env, cfg.LogLevel)
	log.Info().Dur("interval", cfg.RelayInterval).Int("batch_size", cfg.RelayBatchSize).Msg("outbox-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("open dependencies")
		os.Exit(1)
	}
	defer deps.Close()

	if deps.Redis == nil {
		log.Error().Msg("redis is required to publish outbox events")
		deps.Close()
		os.Exit(1)
	}

	r := relay.New(deps.Store, redisclient.NewStreamPublisher(deps.Redis, 100_000), relay.Config{
		NotificationStream: cfg.NotificationStream,
		BillingStream:      cfg.BillingStream,
		BatchSize:          cfg.RelayBatchSize,
	}, log)
	r.Run(rootCtx, cfg.RelayInterval)
}
