package booking

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// CalendarMirror is the external calendar reflecting bookings and providing extra busy time.
type CalendarMirror interface {
	ListBusyIntervals(ctx context.Context, date civil.Date) ([]BusyInterval, error)
	CreateEvent(ctx context.Context, b *Booking) (string, error)
	DeleteEvent(ctx context.Context, eventRef string) error
}

// MirrorEventID is the deterministic calendar event id of a booking, so that
// retried creations and deletions address the same event.
func MirrorEventID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// NoopCalendar is used when no external calendar is configured.
type NoopCalendar struct{}

func (NoopCalendar) ListBusyIntervals(context.Context, civil.Date) ([]BusyInterval, error) {
	return nil, nil
}

func (NoopCalendar) CreateEvent(_ context.Context, b *Booking) (string, error) {
	return MirrorEventID(b.ID), nil
}

func (NoopCalendar) DeleteEvent(context.Context, string) error { return nil }

type Recipient string

const (
	RecipientPatient      Recipient = "patient"
	RecipientPractitioner Recipient = "practitioner"
)

// BookingCreatedEvent carries everything a confirmation message needs.
type BookingCreatedEvent struct {
	Booking  Booking
	StartsAt time.Time
	EndsAt   time.Time
}

type BookingCancelledEvent struct {
	Booking  Booking
	StartsAt time.Time
	Actor    Actor
	Message  string
}

// Notifier renders and delivers booking messages. Calls are best-effort.
type Notifier interface {
	BookingCreated(ctx context.Context, ev BookingCreatedEvent, to Recipient) error
	BookingCancelled(ctx context.Context, ev BookingCancelledEvent, to Recipient) error
}

type noopNotifier struct{}

func (noopNotifier) BookingCreated(context.Context, BookingCreatedEvent, Recipient) error {
	return nil
}

func (noopNotifier) BookingCancelled(context.Context, BookingCancelledEvent, Recipient) error {
	return nil
}
