package booking

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/practice-booking/internal/schedule"
)

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrBlockedSlotNotFound = errors.New("blocked slot not found")
	ErrSlotTaken           = errors.New("slot already has an active booking")
	ErrSlotBlocked         = errors.New("slot is blocked")
	ErrTokenTaken          = errors.New("cancellation token already in use")
	ErrSlotAlreadyBlocked  = errors.New("slot is already blocked")
)

// Repository contains all store interactions needed by the resolver and the service.
type Repository interface {
	// Conflict checks
	FindActiveBookingAt(ctx context.Context, date civil.Date, t schedule.SlotTime) (*Booking, error)
	ListActiveBookingsOn(ctx context.Context, date civil.Date) ([]Booking, error)
	FindBlockedSlotsFor(ctx context.Context, date civil.Date) ([]BlockedSlot, error)

	// InsertBookingIfAbsent stores b unless its slot is occupied or blocked.
	// Fails with ErrSlotTaken, ErrSlotBlocked or ErrTokenTaken.
	InsertBookingIfAbsent(ctx context.Context, b *Booking) (*Booking, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByToken(ctx context.Context, token string) (*Booking, error)

	// UpdateStatus changes the status only if it still equals from.
	// Returns ErrBookingNotFound when no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Booking, error)
	SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error

	// Completion worker
	FindCompletable(ctx context.Context, onOrBefore civil.Date) ([]Booking, error)

	// Practitioner blocks
	CreateBlockedSlot(ctx context.Context, s *BlockedSlot) (*BlockedSlot, error)
	DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error
	ListBlockedSlots(ctx context.Context, from, to civil.Date) ([]BlockedSlot, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
