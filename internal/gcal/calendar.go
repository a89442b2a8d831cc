// Package gcal mirrors bookings into a Google Calendar and reads the
// practitioner's other commitments back as busy time.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hackgods/practice-booking/internal/booking"
)

// Events created by this service are tagged so they are not read back as
// foreign busy time.
const (
	sourceKey   = "source"
	sourceValue = "practice-booking"
	bookingKey  = "booking_id"
)

type Config struct {
	CalendarID   string
	Location     *time.Location
	SlotDuration time.Duration
}

type Calendar struct {
	svc    *calendar.Service
	cfg    Config
	logger *zap.Logger
}

var _ booking.CalendarMirror = (*Calendar)(nil)

// New builds the mirror. Credentials come from opts, typically
// option.WithCredentialsFile.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Calendar, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar id is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Calendar{svc: svc, cfg: cfg, logger: logger}, nil
}

// ListBusyIntervals returns the opaque foreign events overlapping date.
func (c *Calendar) ListBusyIntervals(ctx context.Context, date civil.Date) ([]booking.BusyInterval, error) {
	dayStart := date.In(c.cfg.Location)
	dayEnd := date.AddDays(1).In(c.cfg.Location)

	var out []booking.BusyInterval
	err := c.svc.Events.List(c.cfg.CalendarID).
		TimeMin(dayStart.Format(time.RFC3339)).
		TimeMax(dayEnd.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(250).
		Pages(ctx, func(page *calendar.Events) error {
			for _, ev := range page.Items {
				if iv, ok := c.busyInterval(ev); ok {
					out = append(out, iv)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return out, nil
}

func (c *Calendar) busyInterval(ev *calendar.Event) (booking.BusyInterval, bool) {
	if ev.Status == "cancelled" || ev.Transparency == "transparent" {
		return booking.BusyInterval{}, false
	}
	if ev.ExtendedProperties != nil && ev.ExtendedProperties.Private[sourceKey] == sourceValue {
		return booking.BusyInterval{}, false
	}
	if ev.Start == nil || ev.End == nil {
		return booking.BusyInterval{}, false
	}

	// all-day events carry dates only, with an exclusive end date
	if ev.Start.Date != "" {
		start, err1 := civil.ParseDate(ev.Start.Date)
		end, err2 := civil.ParseDate(ev.End.Date)
		if err1 != nil || err2 != nil {
			c.logger.Warn("skipping calendar event with malformed dates", zap.String("event_id", ev.Id))
			return booking.BusyInterval{}, false
		}
		return booking.BusyInterval{Start: start.In(c.cfg.Location), End: end.In(c.cfg.Location)}, true
	}

	start, err1 := time.Parse(time.RFC3339, ev.Start.DateTime)
	end, err2 := time.Parse(time.RFC3339, ev.End.DateTime)
	if err1 != nil || err2 != nil {
		c.logger.Warn("skipping calendar event with malformed times", zap.String("event_id", ev.Id))
		return booking.BusyInterval{}, false
	}
	return booking.BusyInterval{Start: start, End: end}, true
}

// CreateEvent inserts the booking's event. A retried insert of an existing
// event counts as success.
func (c *Calendar) CreateEvent(ctx context.Context, b *booking.Booking) (string, error) {
	id := booking.MirrorEventID(b.ID)
	start := b.StartsAt(c.cfg.Location)
	end := start.Add(c.cfg.SlotDuration)

	ev := &calendar.Event{
		Id:          id,
		Summary:     "Consultation: " + b.FullName(),
		Description: fmt.Sprintf("Reason: %s\nEmail: %s\nPhone: %s", b.Reason, b.Email, b.Phone),
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.cfg.Location.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.cfg.Location.String(),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				sourceKey:  sourceValue,
				bookingKey: b.ID.String(),
			},
		},
	}

	created, err := c.svc.Events.Insert(c.cfg.CalendarID, ev).Context(ctx).Do()
	if err != nil {
		if hasStatus(err, http.StatusConflict) {
			return id, nil
		}
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	return created.Id, nil
}

// DeleteEvent removes the event; an already deleted event is not an error.
func (c *Calendar) DeleteEvent(ctx context.Context, eventRef string) error {
	err := c.svc.Events.Delete(c.cfg.CalendarID, eventRef).Context(ctx).Do()
	if err != nil {
		if hasStatus(err, http.StatusNotFound) || hasStatus(err, http.StatusGone) {
			return nil
		}
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

func hasStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
