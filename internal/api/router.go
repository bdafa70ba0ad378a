package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/booking"
	"github.com/hackgods/clinic-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

type RouterConfig struct {
	Availability *availability.Service
	Booking      *booking.Service
	Appointments *appointment.Service
	Scheduler    *reminder.Scheduler
	Checks       map[string]bootstrap.Check
	Log          *zap.Logger

	Env                string
	Version            string
	CORSOrigins        []string
	RateLimitPerMinute int
	// Auth, when set, guards every route except health.
	Auth func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}

		r.Route("/providers/{providerID}/availability", func(r chi.Router) {
			r.Post("/", createAvailabilityHandler(cfg.Availability, log))
			r.Get("/", listAvailabilityHandler(cfg.Availability, log))

			r.Route("/{date}", func(r chi.Router) {
				r.Get("/", getAvailabilityHandler(cfg.Availability, log))
				r.Get("/available", availableSlotsHandler(cfg.Availability, log))
				r.Get("/types/{type}", getAvailabilityTypeHandler(cfg.Availability, log))
				r.Get("/booked", bookedSlotsHandler(cfg.Booking, log))
				r.Get("/summary", summaryHandler(cfg.Booking, log))
				r.Post("/book", bookSlotHandler(cfg.Booking, log))
				r.Post("/cancel-all", cancelAllHandler(cfg.Booking, log))
				r.Post("/{slotID}/cancel", cancelSlotHandler(cfg.Booking, log))
			})
		})

		r.Put("/availability/{availabilityID}", updateAvailabilityHandler(cfg.Availability, log))
		r.Delete("/availability/{availabilityID}", deleteAvailabilityHandler(cfg.Availability, log))

		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, log))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, log))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments, log))

		if cfg.Scheduler != nil {
			r.Get("/scheduler/status", schedulerStatusHandler(cfg.Scheduler))
			r.Get("/scheduler/config", schedulerConfigHandler(cfg.Scheduler))
			r.Put("/scheduler/config", updateSchedulerConfigHandler(cfg.Scheduler, log))
			r.Post("/scheduler/trigger-check", triggerSweepHandler(cfg.Scheduler, log))
		}
	})

	return r
}
