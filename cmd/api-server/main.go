package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/medcare/scheduling-engine/internal/api"
	"github.com/medcare/scheduling-engine/internal/app"
	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/db"
	"github.com/medcare/scheduling-engine/internal/logging"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres schema migrations",
	}

	for _, dir := range []db.Direction{db.Up, db.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the schema %s", dir),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if cfg.StorageDriver != config.DriverPostgres {
					return fmt.Errorf("migrations apply to postgres only; the %s store creates its schema on open", cfg.StorageDriver)
				}
				log := logging.New("migrate", cfg.Env, cfg.LogLevel)
				return db.Migrate(cfg.PostgresDSN, dir, log)
			},
		})
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			roleName, _ := cmd.Flags().GetString("role")
			subject, _ := cmd.Flags().GetString("id")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role, err := scheduling.ParseRole(roleName)
			if err != nil {
				return err
			}
			id := uuid.New()
			if subject != "" {
				if id, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("--id: %w", err)
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.NewTokens(cfg.JWTSecret).Issue(scheduling.Actor{Role: role, ID: id}, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n%s\n", role, id, token)
			return nil
		},
	}
	cmd.Flags().String("role", "patient", "patient, reception or practitioner")
	cmd.Flags().String("id", "", "user id (random if empty)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	log := logging.New("api-server", cfg.Env, cfg.LogLevel)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Dur("slot_duration", cfg.SlotDuration).
		Bool("strict_availability", cfg.StrictAvailability).
		Str("timezone", cfg.Timezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	svc := scheduling.NewService(deps.Store, deps.Locker(cfg.LockTTL), cfg, scheduling.SystemClock(), log)

	var redisPinger api.Pinger
	if deps.Redis != nil {
		redisPinger = api.PingFunc(func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() })
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:   svc,
			Tokens:    auth.NewTokens(cfg.JWTSecret),
			StoreName: deps.StoreName,
			Store:     deps.Store,
			Redis:     redisPinger,
			Logger:    log,
			Env:       cfg.Env,
			Version:   version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
