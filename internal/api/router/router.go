package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wellmind-health/therapy-platform/internal/availability"
	"github.com/wellmind-health/therapy-platform/internal/booking"
	httpmiddleware "github.com/wellmind-health/therapy-platform/internal/http/middleware"
	"github.com/wellmind-health/therapy-platform/internal/settlement"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	AvailabilityHandler *availability.Handler
	BookingHandler      *booking.Handler
	WalletHandler       *wallet.Handler
	SettlementHandler   *settlement.Handler
	MetricsHandler      http.Handler
	AuthJWTSecret       string
	HealthCheck         http.HandlerFunc
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, and the gateway callback.
	r.Group(func(public chi.Router) {
		if cfg.HealthCheck != nil {
			public.Get("/health", cfg.HealthCheck)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.SettlementHandler != nil {
			public.Post("/webhooks/checkout", cfg.SettlementHandler.HandleWebhook)
		}
	})

	// Authenticated API.
	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.UserJWT(cfg.AuthJWTSecret))

		if cfg.AvailabilityHandler != nil {
			authed.Route("/therapists/{therapistID}", func(r chi.Router) {
				r.Get("/slots", cfg.AvailabilityHandler.Slots)
				r.Get("/availability", cfg.AvailabilityHandler.Availability)
				r.Get("/template", cfg.AvailabilityHandler.Template)
				r.With(httpmiddleware.RequireRole("therapist")).Put("/template", cfg.AvailabilityHandler.ReplaceTemplate)
			})
		}

		if cfg.SettlementHandler != nil {
			authed.Route("/bookings", func(r chi.Router) {
				r.Use(httpmiddleware.RequireRole("client"))
				r.Post("/wallet", cfg.SettlementHandler.CreateWalletBooking)
				r.Post("/checkout", cfg.SettlementHandler.CreateCheckout)
			})
		}

		if cfg.BookingHandler != nil {
			authed.Route("/appointments", func(r chi.Router) {
				r.Get("/", cfg.BookingHandler.List)
				r.Route("/{appointmentID}", func(r chi.Router) {
					r.Get("/", cfg.BookingHandler.Get)
					r.Patch("/status", cfg.BookingHandler.UpdateStatus)
					r.Patch("/notes", cfg.BookingHandler.UpdateNotes)
				})
			})
		}

		if cfg.WalletHandler != nil {
			authed.Route("/wallet", func(r chi.Router) {
				r.Get("/balance", cfg.WalletHandler.Balance)
				r.Get("/transactions", cfg.WalletHandler.Transactions)
			})
		}
	})

	return r
}
