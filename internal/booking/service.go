package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/clock"
	"github.com/hackgods/practice-booking/internal/metrics"
	redisclient "github.com/hackgods/practice-booking/internal/redis"
	"github.com/hackgods/practice-booking/internal/schedule"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventSlotBlocked      = "SLOT_BLOCKED"
	EventSlotUnblocked    = "SLOT_UNBLOCKED"
)

const (
	effectCalendarCreate    = "calendar_create"
	effectCalendarDelete    = "calendar_delete"
	effectPatientEmail      = "email_patient"
	effectPractitionerEmail = "email_practitioner"
)

// maxBlockedRange bounds ListBlockedSlots queries.
const maxBlockedRange = 366

var ErrTooLateToCancel = errors.New("booking can no longer be cancelled online")

var tracer = otel.Tracer("github.com/hackgods/practice-booking/internal/booking")

type Options struct {
	MinAdvance      time.Duration
	CancelCutoff    time.Duration
	InitialStatus   Status
	CalendarTimeout time.Duration
	TokenAttempts   int
}

// Deps are the collaborators of the service. Calendar, Notifier, Dispatcher,
// Locker, Logger and Metrics are optional.
type Deps struct {
	Repo       Repository
	Catalog    *schedule.Catalog
	Clock      clock.Clock
	Locker     redisclient.Locker
	Calendar   CalendarMirror
	Notifier   Notifier
	Dispatcher Dispatcher
	Logger     *zap.Logger
	Metrics    *metrics.BookingMetrics
	NewToken   func() (string, error)
}

type Service struct {
	repo       Repository
	resolver   *Resolver
	validator  *Validator
	catalog    *schedule.Catalog
	clock      clock.Clock
	locker     redisclient.Locker
	calendar   CalendarMirror
	notifier   Notifier
	dispatcher Dispatcher
	newToken   func() (string, error)
	opts       Options
	logger     *zap.Logger
	metrics    *metrics.BookingMetrics
}

func NewService(d Deps, opts Options) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Calendar == nil {
		d.Calendar = NoopCalendar{}
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Locker == nil {
		d.Locker = unguarded{}
	}
	if d.Dispatcher == nil {
		d.Dispatcher = NewAsyncDispatcher(DispatcherOptions{Attempts: 1}, d.Logger, d.Metrics)
	}
	if d.NewToken == nil {
		d.NewToken = NewCancellationToken
	}
	if opts.InitialStatus == "" {
		opts.InitialStatus = StatusPending
	}
	if opts.TokenAttempts < 1 {
		opts.TokenAttempts = 3
	}

	return &Service{
		repo: d.Repo,
		resolver: NewResolver(d.Repo, d.Calendar, d.Catalog, d.Clock, ResolverOptions{
			MinAdvance:      opts.MinAdvance,
			CalendarTimeout: opts.CalendarTimeout,
		}, d.Logger, d.Metrics),
		validator:  NewValidator(d.Catalog),
		catalog:    d.Catalog,
		clock:      d.Clock,
		locker:     d.Locker,
		calendar:   d.Calendar,
		notifier:   d.Notifier,
		dispatcher: d.Dispatcher,
		newToken:   d.NewToken,
		opts:       opts,
		logger:     d.Logger,
		metrics:    d.Metrics,
	}
}

// unguarded runs the critical section without a distributed lock; the store
// constraint still decides between concurrent inserts.
type unguarded struct{}

func (unguarded) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func slotKey(date civil.Date, t schedule.SlotTime) string {
	return date.String() + "T" + t.String()
}

// Availability returns the free slots of a day.
func (s *Service) Availability(ctx context.Context, date civil.Date) (*DayAvailability, error) {
	ctx, span := tracer.Start(ctx, "booking.availability")
	defer span.End()
	span.SetAttributes(attribute.String("booking.date", date.String()))

	day, err := s.resolver.Available(ctx, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("availability.degraded", day.Degraded))
	return day, nil
}

// CreateBooking validates the request and reserves its slot. Of two requests
// racing for one slot exactly one succeeds; the other gets ErrSlotUnavailable.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.create")
	defer span.End()

	created, err := s.createBooking(ctx, req)
	s.metrics.ObserveCreate(createResult(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("booking.id", created.ID.String()))
	s.logger.Info("booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("date", created.Date.String()),
		zap.String("time", created.Time.String()),
		zap.String("status", string(created.Status)),
	)

	s.afterCreate(ctx, *created)
	return created, nil
}

func (s *Service) createBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	in, err := s.validator.ValidateCreate(req)
	if err != nil {
		return nil, err
	}

	// Advisory check, including the external calendar
	degraded, err := s.resolver.CheckSlot(ctx, in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	if degraded {
		s.logger.Warn("booking checked without external calendar",
			zap.String("date", in.Date.String()),
			zap.String("time", in.Time.String()),
		)
	}

	var created *Booking

	reserve := func(lockCtx context.Context) error {
		// Inside the critical section only store state is authoritative
		if err := s.resolver.checkAdvance(s.clock.Now(), in.Date, in.Time); err != nil {
			return err
		}
		existing, err := s.repo.FindActiveBookingAt(lockCtx, in.Date, in.Time)
		if err != nil && !errors.Is(err, ErrBookingNotFound) {
			return fmt.Errorf("check active booking: %w", err)
		}
		if existing != nil {
			return ErrSlotUnavailable
		}

		b, err := s.insertWithFreshToken(lockCtx, &Booking{
			ID:        uuid.New(),
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
			Phone:     in.Phone,
			Reason:    in.Reason,
			Date:      in.Date,
			Time:      in.Time,
			Period:    in.Period,
			Status:    s.opts.InitialStatus,
		})
		if err != nil {
			return err
		}
		created = b

		s.logEvent(lockCtx, &b.ID, EventBookingCreated, map[string]any{
			"date":     b.Date.String(),
			"time":     b.Time.String(),
			"period":   string(b.Period),
			"status":   string(b.Status),
			"degraded": degraded,
		})
		return nil
	}

	key := slotKey(in.Date, in.Time)
	err = s.locker.WithSlotLock(ctx, key, reserve)
	if errors.Is(err, redisclient.ErrLockUnavailable) {
		// the partial unique index still refuses a second active booking
		s.logger.Warn("slot lock unavailable, relying on the store constraint",
			zap.String("slot", key),
			zap.Error(err),
		)
		err = reserve(ctx)
	}

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %w", ErrSlotUnavailable, err)
		}
		return nil, err
	}
	created.Degraded = degraded
	return created, nil
}

// insertWithFreshToken retries with a new token when the store reports a
// token collision.
func (s *Service) insertWithFreshToken(ctx context.Context, b *Booking) (*Booking, error) {
	for attempt := 0; attempt < s.opts.TokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}
		b.CancellationToken = token

		created, err := s.repo.InsertBookingIfAbsent(ctx, b)
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, ErrTokenTaken):
			s.logger.Warn("cancellation token collision, regenerating", zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrSlotBlocked):
			return nil, fmt.Errorf("%w: %w", ErrSlotUnavailable, err)
		default:
			return nil, fmt.Errorf("insert booking: %w", err)
		}
	}
	return nil, fmt.Errorf("generate unique cancellation token: %w", ErrTokenTaken)
}

func (s *Service) afterCreate(ctx context.Context, b Booking) {
	loc := s.clock.Location()
	ev := BookingCreatedEvent{
		Booking:  b,
		StartsAt: b.StartsAt(loc),
		EndsAt:   b.StartsAt(loc).Add(s.catalog.Duration()),
	}

	s.dispatcher.Dispatch(ctx, effectCalendarCreate, func(ctx context.Context) error {
		return s.mirrorBooking(ctx, b)
	})
	s.dispatcher.Dispatch(ctx, effectPatientEmail, func(ctx context.Context) error {
		return s.notifier.BookingCreated(ctx, ev, RecipientPatient)
	})
	s.dispatcher.Dispatch(ctx, effectPractitionerEmail, func(ctx context.Context) error {
		return s.notifier.BookingCreated(ctx, ev, RecipientPractitioner)
	})
}

// mirrorBooking creates the calendar event of a booking that is still active.
// A cancellation racing with it may have run its delete first, so the status
// is read again once the event exists.
func (s *Service) mirrorBooking(ctx context.Context, b Booking) error {
	current, err := s.repo.GetBookingByID(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("reload booking: %w", err)
	}
	if !current.Status.Active() {
		return nil
	}

	ref, err := s.calendar.CreateEvent(ctx, &b)
	if err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	if err := s.repo.SetCalendarEventID(ctx, b.ID, ref); err != nil {
		return err
	}

	current, err = s.repo.GetBookingByID(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("reload booking: %w", err)
	}
	if !current.Status.Active() {
		if err := s.calendar.DeleteEvent(ctx, ref); err != nil {
			return fmt.Errorf("delete calendar event of cancelled booking: %w", err)
		}
	}
	return nil
}

// CancelBooking cancels the booking holding token. Patients must cancel at
// least CancelCutoff before the start; the practitioner may cancel any time.
func (s *Service) CancelBooking(ctx context.Context, token string, actor Actor, message string) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.actor", string(actor)))

	cancelled, err := s.cancelBooking(ctx, token, actor, strings.TrimSpace(message))
	s.metrics.ObserveCancel(string(actor), cancelResult(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("booking cancelled",
		zap.String("booking_id", cancelled.ID.String()),
		zap.String("actor", string(actor)),
	)
	s.afterCancel(ctx, *cancelled, actor)
	return cancelled, nil
}

func (s *Service) cancelBooking(ctx context.Context, token string, actor Actor, message string) (*Booking, error) {
	if _, err := ParseActor(string(actor)); err != nil {
		return nil, ValidationErrors{{Field: "actor", Message: "must be patient or doctor"}}
	}
	if token == "" {
		return nil, ErrBookingNotFound
	}

	b, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if err := Transition(b.Status, StatusCancelled); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if actor == ActorPatient && b.StartsAt(s.clock.Location()).Sub(now) < s.opts.CancelCutoff {
		return nil, ErrTooLateToCancel
	}

	change := StatusChange{At: now, By: &actor}
	if message != "" {
		change.Message = &message
	}

	updated, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, StatusCancelled, change)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// the status changed between the read and the update
			return nil, s.concurrentChange(ctx, b.ID)
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.logEvent(ctx, &updated.ID, EventBookingCancelled, map[string]any{
		"actor":       string(actor),
		"from_status": string(b.Status),
		"has_message": message != "",
	})
	return updated, nil
}

func (s *Service) concurrentChange(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload booking: %w", err)
	}
	if current.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	return fmt.Errorf("%w: booking is now %s", ErrInvalidStatusTransition, current.Status)
}

func (s *Service) afterCancel(ctx context.Context, b Booking, actor Actor) {
	ref := MirrorEventID(b.ID)
	if b.CalendarEventID != nil {
		ref = *b.CalendarEventID
	}
	s.dispatcher.Dispatch(ctx, effectCalendarDelete, func(ctx context.Context) error {
		return s.calendar.DeleteEvent(ctx, ref)
	})

	ev := BookingCancelledEvent{
		Booking:  b,
		StartsAt: b.StartsAt(s.clock.Location()),
		Actor:    actor,
	}
	if b.CancellationMessage != nil {
		ev.Message = *b.CancellationMessage
	}

	// the party who did not cancel is told about it
	to, effect := RecipientPractitioner, effectPractitionerEmail
	if actor == ActorDoctor {
		to, effect = RecipientPatient, effectPatientEmail
	}
	s.dispatcher.Dispatch(ctx, effect, func(ctx context.Context) error {
		return s.notifier.BookingCancelled(ctx, ev, to)
	})
}

// ConfirmBooking moves a pending booking to confirmed.
func (s *Service) ConfirmBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.confirm")
	defer span.End()

	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}

	if err := Transition(b.Status, StatusConfirmed); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, StatusConfirmed, StatusChange{At: s.clock.Now()})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, s.concurrentChange(ctx, b.ID)
		}
		return nil, fmt.Errorf("confirm booking: %w", err)
	}

	s.logEvent(ctx, &updated.ID, EventBookingConfirmed, map[string]any{})
	return updated, nil
}

func (s *Service) GetBookingByToken(ctx context.Context, token string) (*Booking, error) {
	if token == "" {
		return nil, ErrBookingNotFound
	}
	b, err := s.repo.GetBookingByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// CompletePastBookings is intended to be called by the worker periodically.
// It marks bookings whose consultation has ended as completed.
func (s *Service) CompletePastBookings(ctx context.Context) (int, error) {
	now := s.clock.Now()
	candidates, err := s.repo.FindCompletable(ctx, civil.DateOf(now))
	if err != nil {
		return 0, fmt.Errorf("find completable bookings: %w", err)
	}

	completed := 0
	for _, b := range candidates {
		end := b.StartsAt(s.clock.Location()).Add(s.catalog.Duration())
		if end.After(now) {
			continue
		}
		if err := Transition(b.Status, StatusCompleted); err != nil {
			continue
		}

		_, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, StatusCompleted, StatusChange{At: now})
		if err != nil {
			if !errors.Is(err, ErrBookingNotFound) {
				s.logger.Error("failed to complete booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
			}
			continue
		}
		completed++
		s.logEvent(ctx, &b.ID, EventBookingCompleted, map[string]any{
			"from_status": string(b.Status),
		})
	}
	return completed, nil
}

// BlockSlot makes a catalog slot unavailable on one date.
func (s *Service) BlockSlot(ctx context.Context, date civil.Date, t schedule.SlotTime, reason string) (*BlockedSlot, error) {
	var violations ValidationErrors
	if _, err := s.catalog.PeriodOf(t); err != nil {
		violations = append(violations, FieldError{Field: "time", Message: "is not a bookable slot"})
	}
	if date.Before(clock.Today(s.clock)) {
		violations = append(violations, FieldError{Field: "date", Message: "must not be in the past"})
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 200 {
		violations = append(violations, FieldError{Field: "reason", Message: "must be at most 200 characters"})
	}
	if len(violations) > 0 {
		return nil, violations
	}

	created, err := s.repo.CreateBlockedSlot(ctx, &BlockedSlot{
		ID:     uuid.New(),
		Date:   date,
		Time:   t,
		Reason: reason,
	})
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBlocked) {
			return nil, err
		}
		return nil, fmt.Errorf("block slot: %w", err)
	}

	s.logEvent(ctx, nil, EventSlotBlocked, map[string]any{
		"blocked_slot_id": created.ID.String(),
		"date":            created.Date.String(),
		"time":            created.Time.String(),
	})
	return created, nil
}

func (s *Service) UnblockSlot(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteBlockedSlot(ctx, id); err != nil {
		if errors.Is(err, ErrBlockedSlotNotFound) {
			return err
		}
		return fmt.Errorf("unblock slot: %w", err)
	}
	s.logEvent(ctx, nil, EventSlotUnblocked, map[string]any{
		"blocked_slot_id": id.String(),
	})
	return nil
}

func (s *Service) ListBlockedSlots(ctx context.Context, from, to civil.Date) ([]BlockedSlot, error) {
	if to.Before(from) {
		return nil, ValidationErrors{{Field: "to", Message: "must not be before from"}}
	}
	if to.DaysSince(from) > maxBlockedRange {
		return nil, ValidationErrors{{Field: "to", Message: fmt.Sprintf("range must not exceed %d days", maxBlockedRange)}}
	}
	slots, err := s.repo.ListBlockedSlots(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	return slots, nil
}

func (s *Service) logEvent(ctx context.Context, bookingID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log", zap.String("event", eventType), zap.Error(err))
	}
}

func createResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAdvanceNotice):
		return "advance_notice"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	}
	return "error"
}

func cancelResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBookingNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrTooLateToCancel):
		return "too_late"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_transition"
	}
	return "error"
}
