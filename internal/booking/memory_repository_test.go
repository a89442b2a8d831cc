package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/practice-booking/internal/schedule"
)

// memoryRepository mirrors the constraints of the SQL schema: one active
// booking per slot, unique tokens, no booking on a blocked slot.
type memoryRepository struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
	blocked  map[uuid.UUID]*BlockedSlot
	events   []EventLog

	// optional fault injection
	listErr   error
	insertErr error
	// beforeInsert runs at the start of InsertBookingIfAbsent without the lock held
	beforeInsert func()
	// runs at the end of SetCalendarEventID without the lock held
	afterSetCalendarEventID func()
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		bookings: make(map[uuid.UUID]*Booking),
		blocked:  make(map[uuid.UUID]*BlockedSlot),
	}
}

func (r *memoryRepository) FindActiveBookingAt(_ context.Context, date civil.Date, t schedule.SlotTime) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Date == date && b.Time == t && b.Status.Active() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (r *memoryRepository) ListActiveBookingsOn(_ context.Context, date civil.Date) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Booking
	for _, b := range r.bookings {
		if b.Date == date && b.Status.Active() {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *memoryRepository) FindBlockedSlotsFor(_ context.Context, date civil.Date) ([]BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BlockedSlot
	for _, s := range r.blocked {
		if s.Date == date {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memoryRepository) InsertBookingIfAbsent(_ context.Context, b *Booking) (*Booking, error) {
	if r.beforeInsert != nil {
		r.beforeInsert()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	for _, s := range r.blocked {
		if s.Date == b.Date && s.Time == b.Time {
			return nil, ErrSlotBlocked
		}
	}
	for _, existing := range r.bookings {
		if existing.Date == b.Date && existing.Time == b.Time && existing.Status.Active() {
			return nil, ErrSlotTaken
		}
		if existing.CancellationToken == b.CancellationToken {
			return nil, ErrTokenTaken
		}
	}
	cp := *b
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.bookings[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memoryRepository) GetBookingByToken(_ context.Context, token string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.CancellationToken == token {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	if to == StatusCancelled {
		at := change.At
		b.CancelledAt = &at
		b.CancelledBy = change.By
		b.CancellationMessage = change.Message
	}
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *memoryRepository) SetCalendarEventID(_ context.Context, id uuid.UUID, eventID string) error {
	r.mu.Lock()
	b, ok := r.bookings[id]
	if ok {
		b.CalendarEventID = &eventID
	}
	r.mu.Unlock()
	if !ok {
		return ErrBookingNotFound
	}
	if r.afterSetCalendarEventID != nil {
		r.afterSetCalendarEventID()
	}
	return nil
}

func (r *memoryRepository) FindCompletable(_ context.Context, onOrBefore civil.Date) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if (b.Status == StatusPending || b.Status == StatusConfirmed) && !b.Date.After(onOrBefore) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memoryRepository) CreateBlockedSlot(_ context.Context, s *BlockedSlot) (*BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.blocked {
		if existing.Date == s.Date && existing.Time == s.Time {
			return nil, ErrSlotAlreadyBlocked
		}
	}
	cp := *s
	cp.CreatedAt = time.Now()
	r.blocked[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memoryRepository) DeleteBlockedSlot(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocked[id]; !ok {
		return ErrBlockedSlotNotFound
	}
	delete(r.blocked, id)
	return nil
}

func (r *memoryRepository) ListBlockedSlots(_ context.Context, from, to civil.Date) ([]BlockedSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BlockedSlot
	for _, s := range r.blocked {
		if !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memoryRepository) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.bookings {
		if b.Status.Active() {
			n++
		}
	}
	return n
}

// fakeCalendar records mirror calls and can be made unreachable.
type fakeCalendar struct {
	mu      sync.Mutex
	busy    []BusyInterval
	listErr error
	created []uuid.UUID
	deleted []string
}

func (c *fakeCalendar) ListBusyIntervals(context.Context, civil.Date) ([]BusyInterval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.busy, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, b *Booking) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, b.ID)
	return MirrorEventID(b.ID), nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ref)
	return nil
}

type sentMessage struct {
	kind string
	to   Recipient
	msg  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) BookingCreated(_ context.Context, _ BookingCreatedEvent, to Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{kind: "created", to: to})
	return n.err
}

func (n *fakeNotifier) BookingCancelled(_ context.Context, ev BookingCancelledEvent, to Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{kind: "cancelled", to: to, msg: ev.Message})
	return n.err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

var errUnreachable = errors.New("calendar unreachable")
