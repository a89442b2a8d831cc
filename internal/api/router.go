package api

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/practice-booking/internal/booking"
	"github.com/hackgods/practice-booking/internal/schedule"
)

// BookingService is implemented by *booking.Service.
type BookingService interface {
	Availability(ctx context.Context, date civil.Date) (*booking.DayAvailability, error)
	CreateBooking(ctx context.Context, req booking.CreateRequest) (*booking.Booking, error)
	GetBookingByToken(ctx context.Context, token string) (*booking.Booking, error)
	CancelBooking(ctx context.Context, token string, actor booking.Actor, message string) (*booking.Booking, error)
	ConfirmBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	BlockSlot(ctx context.Context, date civil.Date, t schedule.SlotTime, reason string) (*booking.BlockedSlot, error)
	UnblockSlot(ctx context.Context, id uuid.UUID) error
	ListBlockedSlots(ctx context.Context, from, to civil.Date) ([]booking.BlockedSlot, error)
}

type RouterConfig struct {
	Service            BookingService
	PgPool             Pinger
	Redis              *redis.Client
	Logger             *zap.Logger
	Metrics            http.Handler // nil hides /metrics
	PractitionerAPIKey string
	BookingRateLimit   rate.Limit
	BookingRateBurst   int
	Env                string
	Version            string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Patient endpoints
	r.Get("/availability", availabilityHandler(svc, logger))
	r.With(RateLimitMiddleware(cfg.BookingRateLimit, cfg.BookingRateBurst, logger)).
		Post("/bookings", createBookingHandler(svc, logger))
	r.Get("/bookings/cancel/{token}", getBookingByTokenHandler(svc, logger))
	r.Post("/bookings/cancel/{token}", cancelBookingHandler(svc, booking.ActorPatient, logger))

	// Practitioner endpoints
	r.Route("/practitioner", func(r chi.Router) {
		r.Use(PractitionerAuth(cfg.PractitionerAPIKey))
		r.Post("/bookings/cancel/{token}", cancelBookingHandler(svc, booking.ActorDoctor, logger))
		r.Post("/bookings/{id}/confirm", confirmBookingHandler(svc, logger))
		r.Get("/blocked-slots", listBlockedSlotsHandler(svc, logger))
		r.Post("/blocked-slots", createBlockedSlotHandler(svc, logger))
		r.Delete("/blocked-slots/{id}", deleteBlockedSlotHandler(svc, logger))
	})

	return r
}
