package booking

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/practice-booking/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAlreadyCancelled        = errors.New("booking is already cancelled")
)

// transitions lists the allowed targets of every non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Active reports whether the booking still occupies its slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition is the single place deciding whether a status change is legal.
func Transition(from, to Status) error {
	if from == StatusCancelled && to == StatusCancelled {
		return ErrAlreadyCancelled
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
}

// Actor is the party initiating a cancellation.
type Actor string

const (
	ActorPatient Actor = "patient"
	ActorDoctor  Actor = "doctor"
)

func ParseActor(s string) (Actor, error) {
	switch Actor(s) {
	case ActorPatient, ActorDoctor:
		return Actor(s), nil
	}
	return "", fmt.Errorf("unknown actor %q", s)
}

type Booking struct {
	ID                  uuid.UUID
	FirstName           string
	LastName            string
	Email               string
	Phone               string
	Reason              string
	Date                civil.Date
	Time                schedule.SlotTime
	Period              schedule.Period
	Status              Status
	CancellationToken   string
	CalendarEventID     *string
	CancelledBy         *Actor
	CancellationMessage *string
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// Degraded is set on a freshly created booking whose slot was checked
	// without the external calendar. It is not stored.
	Degraded bool
}

func (b *Booking) FullName() string {
	return b.FirstName + " " + b.LastName
}

// StartsAt is the wall-clock start of the consultation in loc.
func (b *Booking) StartsAt(loc *time.Location) time.Time {
	return b.Time.On(loc, b.Date)
}

type BlockedSlot struct {
	ID        uuid.UUID
	Date      civil.Date
	Time      schedule.SlotTime
	Reason    string
	CreatedAt time.Time
}

// BusyInterval is a half-open [Start, End) range taken in the external calendar.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// StatusChange carries the audit fields written alongside a status update.
type StatusChange struct {
	At      time.Time
	By      *Actor
	Message *string
}
