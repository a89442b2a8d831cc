package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practice-booking/internal/clock"
	"github.com/hackgods/practice-booking/internal/metrics"
	"github.com/hackgods/practice-booking/internal/schedule"
)

var (
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrAdvanceNotice   = errors.New("slot starts too soon to be booked")
	ErrDayClosed       = errors.New("practice is closed on this day")
)

// DayAvailability lists the free slots of one day by period.
// Degraded is set when the external calendar could not be consulted.
type DayAvailability struct {
	Date      civil.Date
	Open      bool
	Degraded  bool
	Morning   []schedule.SlotTime
	Afternoon []schedule.SlotTime
}

func (d *DayAvailability) Contains(t schedule.SlotTime) bool {
	for _, s := range d.Morning {
		if s == t {
			return true
		}
	}
	for _, s := range d.Afternoon {
		if s == t {
			return true
		}
	}
	return false
}

type ResolverOptions struct {
	MinAdvance      time.Duration
	CalendarTimeout time.Duration
}

// Resolver computes which catalog slots are free on a given day.
type Resolver struct {
	repo     Repository
	calendar CalendarMirror
	catalog  *schedule.Catalog
	clock    clock.Clock
	opts     ResolverOptions
	logger   *zap.Logger
	metrics  *metrics.BookingMetrics
}

func NewResolver(repo Repository, calendar CalendarMirror, catalog *schedule.Catalog, clk clock.Clock,
	opts ResolverOptions, logger *zap.Logger, m *metrics.BookingMetrics) *Resolver {
	if calendar == nil {
		calendar = NoopCalendar{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CalendarTimeout <= 0 {
		opts.CalendarTimeout = 3 * time.Second
	}
	return &Resolver{
		repo:     repo,
		calendar: calendar,
		catalog:  catalog,
		clock:    clk,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Available returns the free slots of date. Past and non-serviced days are
// closed with no slots. A calendar failure never fails the lookup.
func (r *Resolver) Available(ctx context.Context, date civil.Date) (*DayAvailability, error) {
	started := time.Now()
	defer func() { r.metrics.ObserveAvailabilityLatency(time.Since(started).Seconds()) }()

	now := r.clock.Now()
	out := &DayAvailability{
		Date:      date,
		Morning:   []schedule.SlotTime{},
		Afternoon: []schedule.SlotTime{},
	}
	if date.Before(civil.DateOf(now)) || !r.catalog.Serves(date.In(time.UTC).Weekday()) {
		return out, nil
	}
	out.Open = true

	occ, err := r.occupancy(ctx, date)
	if err != nil {
		return nil, err
	}
	out.Degraded = occ.degraded

	for _, t := range r.catalog.Slots() {
		if r.checkAdvance(now, date, t) != nil || occ.occupied(t) {
			continue
		}
		period, _ := r.catalog.PeriodOf(t)
		if period == schedule.Morning {
			out.Morning = append(out.Morning, t)
		} else {
			out.Afternoon = append(out.Afternoon, t)
		}
	}
	return out, nil
}

// CheckSlot verifies a single slot. It returns whether the calendar was
// skipped along with ErrAdvanceNotice, ErrSlotUnavailable or a store error.
func (r *Resolver) CheckSlot(ctx context.Context, date civil.Date, t schedule.SlotTime) (degraded bool, err error) {
	if _, err := r.catalog.PeriodOf(t); err != nil {
		return false, err
	}
	if err := r.checkAdvance(r.clock.Now(), date, t); err != nil {
		return false, err
	}
	if !r.catalog.Serves(date.In(time.UTC).Weekday()) {
		return false, fmt.Errorf("%w: %w", ErrSlotUnavailable, ErrDayClosed)
	}

	occ, err := r.occupancy(ctx, date)
	if err != nil {
		return false, err
	}
	if occ.occupied(t) {
		return occ.degraded, ErrSlotUnavailable
	}
	return occ.degraded, nil
}

// checkAdvance requires the slot to start strictly later than now plus the
// minimum notice. Past slots fail the same way.
func (r *Resolver) checkAdvance(now time.Time, date civil.Date, t schedule.SlotTime) error {
	start := t.On(r.clock.Location(), date)
	if !start.After(now.Add(r.opts.MinAdvance)) {
		return ErrAdvanceNotice
	}
	return nil
}

type occupancy struct {
	taken    map[schedule.SlotTime]bool
	busy     []BusyInterval
	loc      *time.Location
	date     civil.Date
	duration time.Duration
	degraded bool
}

func (o *occupancy) occupied(t schedule.SlotTime) bool {
	if o.taken[t] {
		return true
	}
	start := t.On(o.loc, o.date)
	end := start.Add(o.duration)
	for _, b := range o.busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// occupancy reads bookings, blocks and calendar busy time concurrently.
func (r *Resolver) occupancy(ctx context.Context, date civil.Date) (*occupancy, error) {
	var (
		bookings []Booking
		blocked  []BlockedSlot
		busy     []BusyInterval
		degraded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if bookings, err = r.repo.ListActiveBookingsOn(gctx, date); err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if blocked, err = r.repo.FindBlockedSlotsFor(gctx, date); err != nil {
			return fmt.Errorf("list blocked slots: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		busy, degraded = r.busyIntervals(gctx, date)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	occ := &occupancy{
		taken:    make(map[schedule.SlotTime]bool, len(bookings)+len(blocked)),
		busy:     busy,
		loc:      r.clock.Location(),
		date:     date,
		duration: r.catalog.Duration(),
		degraded: degraded,
	}
	for _, b := range bookings {
		if b.Status.Active() {
			occ.taken[b.Time] = true
		}
	}
	for _, s := range blocked {
		occ.taken[s.Time] = true
	}
	return occ, nil
}

func (r *Resolver) busyIntervals(ctx context.Context, date civil.Date) ([]BusyInterval, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.CalendarTimeout)
	defer cancel()

	busy, err := r.calendar.ListBusyIntervals(ctx, date)
	if err != nil {
		r.metrics.ObserveDegraded()
		r.logger.Warn("calendar unavailable, availability is degraded",
			zap.String("date", date.String()),
			zap.Error(err),
		)
		return nil, true
	}
	return busy, false
}
