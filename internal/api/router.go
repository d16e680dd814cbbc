package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medcare/scheduling-engine/internal/auth"
	"github.com/medcare/scheduling-engine/internal/scheduling"
)

type RouterConfig struct {
	Service   *scheduling.Service
	Tokens    *auth.Tokens
	StoreName string
	Store     Pinger
	Redis     Pinger
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.StoreName, cfg.Store, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{svc: cfg.Service}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Tokens, writeError))

		r.Route("/practitioners/{practitionerID}", func(r chi.Router) {
			r.Get("/availability", h.listWindows)
			r.Post("/availability", h.addWindow)
			r.Get("/slots", h.listSlots)
			r.Get("/appointments", h.listPractitionerAppointments)
		})
		r.Put("/availability/{windowID}", h.updateWindow)
		r.Delete("/availability/{windowID}", h.removeWindow)

		r.Post("/appointments", h.book)
		r.Post("/appointments/validate", h.validateBooking)
		r.Get("/appointments/{appointmentID}", h.getAppointment)
		r.Post("/appointments/{appointmentID}/{action}", h.transition)

		r.Get("/patients/{patientID}/appointments", h.listPatientAppointments)
	})

	return r
}
