package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/app"
	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/config"
	"github.com/medcare/scheduling-engine/internal/logging"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

func main() {
	practitioners := flag.Int("practitioners", 20, "number of practitioners to create")
	patients := flag.Int("patients", 5, "number of patient tokens to print")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New("seed", cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	svc := scheduling.NewService(deps.Store, nil, cfg, scheduling.SystemClock(), zerolog.Nop())
	tokens := auth.NewTokens(cfg.JWTSecret)

	gofakeit.Seed(time.Now().UnixNano())

	ids, err := seedPractitioners(ctx, svc, *practitioners, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed practitioners")
	}

	printToken(tokens, scheduling.Reception(uuid.New()), "reception")
	for i, id := range ids {
		if i >= 3 {
			break
		}
		printToken(tokens, scheduling.Practitioner(id), gofakeit.Name())
	}
	for i := 0; i < *patients; i++ {
		printToken(tokens, scheduling.Patient(uuid.New()), gofakeit.Name())
	}

	log.Info().Int("practitioners", len(ids)).Msg("seed complete")
}

// seedPractitioners gives each practitioner a clinic week: a morning block on
// most weekdays and an afternoon block on some.
func seedPractitioners(ctx context.Context, svc *scheduling.Service, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding practitioners")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		doc := scheduling.Practitioner(uuid.New())
		windows := 0

		for day := scheduling.Monday; day <= scheduling.Saturday; day++ {
			if day == scheduling.Saturday && !gofakeit.Bool() {
				continue
			}
			if gofakeit.Number(0, 9) < 8 {
				startHour := gofakeit.Number(7, 9)
				if err := addWindow(ctx, svc, doc, day, startHour, startHour+gofakeit.Number(3, 4)); err != nil {
					return nil, err
				}
				windows++
			}
			if gofakeit.Number(0, 9) < 5 {
				startHour := gofakeit.Number(13, 14)
				if err := addWindow(ctx, svc, doc, day, startHour, startHour+gofakeit.Number(2, 4)); err != nil {
					return nil, err
				}
				windows++
			}
		}

		ids = append(ids, doc.ID)
		log.Debug().Str("practitioner_id", doc.ID.String()).Int("windows", windows).Msg("practitioner seeded")
	}
	return ids, nil
}

func addWindow(ctx context.Context, svc *scheduling.Service, doc scheduling.Actor, day scheduling.Weekday, from, to int) error {
	_, err := svc.AddWindow(ctx, doc, doc.ID, day, scheduling.NewTimeOfDay(from, 0), scheduling.NewTimeOfDay(to, 0))
	if errors.Is(err, scheduling.ErrOverlap) {
		return nil
	}
	return err
}

func printToken(tokens *auth.Tokens, actor scheduling.Actor, label string) {
	token, err := tokens.Issue(actor, 7*24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		return
	}
	fmt.Printf("%-12s %s %-24s %s\n", actor.Role, actor.ID, label, token)
}
