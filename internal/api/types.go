package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-booking/internal/booking"
)

type CreateBookingRequest = booking.CreateRequest

type CancelBookingRequest struct {
	Message string `json:"message"`
}

type BlockSlotRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason"`
}

type AvailabilityResponse struct {
	Date      string   `json:"date"`
	Open      bool     `json:"open"`
	Degraded  bool     `json:"degraded"`
	Morning   []string `json:"morning"`
	Afternoon []string `json:"afternoon"`
}

// BookingResponse is returned to the patient right after booking and carries
// the cancellation token.
type BookingResponse struct {
	ID                uuid.UUID `json:"id"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Date              string    `json:"date"`
	Time              string    `json:"time"`
	Period            string    `json:"period"`
	Status            string    `json:"status"`
	CancellationToken string    `json:"cancellation_token,omitempty"`
	Degraded          bool      `json:"degraded"`
	CreatedAt         time.Time `json:"created_at"`
}

// BookingSummary is what a cancellation link shows: no contact details.
type BookingSummary struct {
	ID                  uuid.UUID  `json:"id"`
	FirstName           string     `json:"first_name"`
	Date                string     `json:"date"`
	Time                string     `json:"time"`
	Period              string     `json:"period"`
	Status              string     `json:"status"`
	CancelledBy         *string    `json:"cancelled_by,omitempty"`
	CancellationMessage *string    `json:"cancellation_message,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

type BlockedSlotResponse struct {
	ID        uuid.UUID `json:"id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string               `json:"error"`
	Details string               `json:"details,omitempty"`
	Fields  []booking.FieldError `json:"fields,omitempty"`
}

func toAvailabilityResponse(d *booking.DayAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{
		Date:      d.Date.String(),
		Open:      d.Open,
		Degraded:  d.Degraded,
		Morning:   make([]string, 0, len(d.Morning)),
		Afternoon: make([]string, 0, len(d.Afternoon)),
	}
	for _, t := range d.Morning {
		resp.Morning = append(resp.Morning, t.String())
	}
	for _, t := range d.Afternoon {
		resp.Afternoon = append(resp.Afternoon, t.String())
	}
	return resp
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:                b.ID,
		FirstName:         b.FirstName,
		LastName:          b.LastName,
		Date:              b.Date.String(),
		Time:              b.Time.String(),
		Period:            string(b.Period),
		Status:            string(b.Status),
		CancellationToken: b.CancellationToken,
		Degraded:          b.Degraded,
		CreatedAt:         b.CreatedAt,
	}
}

func toBookingSummary(b *booking.Booking) BookingSummary {
	s := BookingSummary{
		ID:                  b.ID,
		FirstName:           b.FirstName,
		Date:                b.Date.String(),
		Time:                b.Time.String(),
		Period:              string(b.Period),
		Status:              string(b.Status),
		CancellationMessage: b.CancellationMessage,
		CancelledAt:         b.CancelledAt,
	}
	if b.CancelledBy != nil {
		actor := string(*b.CancelledBy)
		s.CancelledBy = &actor
	}
	return s
}

func toBlockedSlotResponse(s *booking.BlockedSlot) BlockedSlotResponse {
	return BlockedSlotResponse{
		ID:        s.ID,
		Date:      s.Date.String(),
		Time:      s.Time.String(),
		Reason:    s.Reason,
		CreatedAt: s.CreatedAt,
	}
}
