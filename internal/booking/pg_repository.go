package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/practice-booking/internal/schedule"
)

const (
	uniqueViolation = "23505"

	constraintActiveSlot = "bookings_active_slot_uq"
	constraintToken      = "bookings_cancellation_token_uq"
	constraintBlocked    = "blocked_slots_slot_uq"
)

const bookingColumns = `id, first_name, last_name, email, phone, reason, booking_date, slot_time, period,
	status, cancellation_token, calendar_event_id, cancelled_by, cancellation_message, cancelled_at,
	created_at, updated_at`

const blockedColumns = `id, blocked_date, slot_time, reason, created_at`

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var date time.Time
	var slot string
	var cancelledBy *string

	err := row.Scan(
		&b.ID,
		&b.FirstName,
		&b.LastName,
		&b.Email,
		&b.Phone,
		&b.Reason,
		&date,
		&slot,
		&b.Period,
		&b.Status,
		&b.CancellationToken,
		&b.CalendarEventID,
		&cancelledBy,
		&b.CancellationMessage,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.Date = civil.DateOf(date)
	if b.Time, err = schedule.ParseSlotTime(slot); err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	if cancelledBy != nil {
		actor := Actor(*cancelledBy)
		b.CancelledBy = &actor
	}
	return &b, nil
}

func scanBlockedSlot(row pgx.Row) (*BlockedSlot, error) {
	var s BlockedSlot
	var date time.Time
	var slot string

	err := row.Scan(&s.ID, &date, &slot, &s.Reason, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockedSlotNotFound
		}
		return nil, err
	}

	s.Date = civil.DateOf(date)
	if s.Time, err = schedule.ParseSlotTime(slot); err != nil {
		return nil, fmt.Errorf("blocked slot %s: %w", s.ID, err)
	}
	return &s, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectBlockedSlots(rows pgx.Rows) ([]BlockedSlot, error) {
	defer rows.Close()

	var result []BlockedSlot
	for rows.Next() {
		s, err := scanBlockedSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func violatedConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Interface methods

func (r *PgRepository) FindActiveBookingAt(ctx context.Context, date civil.Date, t schedule.SlotTime) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE booking_date = $1::date
		  AND slot_time = $2
		  AND status <> 'cancelled'
	`, date.String(), t.String())
	return scanBooking(row)
}

func (r *PgRepository) ListActiveBookingsOn(ctx context.Context, date civil.Date) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE booking_date = $1::date
		  AND status <> 'cancelled'
		ORDER BY slot_time
	`, date.String())
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindBlockedSlotsFor(ctx context.Context, date civil.Date) ([]BlockedSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+blockedColumns+`
		FROM blocked_slots
		WHERE blocked_date = $1::date
		ORDER BY slot_time
	`, date.String())
	if err != nil {
		return nil, err
	}
	return collectBlockedSlots(rows)
}

// InsertBookingIfAbsent relies on the partial unique index over active bookings,
// so concurrent inserts for one slot cannot both commit.
func (r *PgRepository) InsertBookingIfAbsent(ctx context.Context, b *Booking) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, first_name, last_name, email, phone, reason, booking_date, slot_time,
			period, status, cancellation_token, created_at, updated_at)
		SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::date, $8::text,
			$9::text, $10::text, $11::text, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM blocked_slots WHERE blocked_date = $7::date AND slot_time = $8::text
		)
		RETURNING `+bookingColumns,
		b.ID, b.FirstName, b.LastName, b.Email, b.Phone, b.Reason, b.Date.String(), b.Time.String(),
		string(b.Period), string(b.Status), b.CancellationToken)

	created, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrSlotBlocked
		}
		if name, ok := violatedConstraint(err); ok {
			switch name {
			case constraintActiveSlot:
				return nil, ErrSlotTaken
			case constraintToken:
				return nil, ErrTokenTaken
			}
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) GetBookingByToken(ctx context.Context, token string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE cancellation_token = $1
	`, token)
	return scanBooking(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Booking, error) {
	var by *string
	if change.By != nil {
		s := string(*change.By)
		by = &s
	}
	var cancelledAt *time.Time
	if to == StatusCancelled {
		at := change.At
		cancelledAt = &at
	}

	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    cancelled_at = COALESCE($4, cancelled_at),
		    cancelled_by = COALESCE($5, cancelled_by),
		    cancellation_message = COALESCE($6, cancellation_message),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, string(to), string(from), cancelledAt, by, change.Message)

	return scanBooking(row)
}

func (r *PgRepository) SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET calendar_event_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, eventID)
	if err != nil {
		return fmt.Errorf("set calendar event id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) FindCompletable(ctx context.Context, onOrBefore civil.Date) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('pending', 'confirmed')
		  AND booking_date <= $1::date
		ORDER BY booking_date, slot_time
	`, onOrBefore.String())
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) CreateBlockedSlot(ctx context.Context, s *BlockedSlot) (*BlockedSlot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO blocked_slots (id, blocked_date, slot_time, reason, created_at)
		VALUES ($1, $2::date, $3, $4, now())
		RETURNING `+blockedColumns,
		s.ID, s.Date.String(), s.Time.String(), s.Reason)

	created, err := scanBlockedSlot(row)
	if err != nil {
		if name, ok := violatedConstraint(err); ok && name == constraintBlocked {
			return nil, ErrSlotAlreadyBlocked
		}
		return nil, fmt.Errorf("insert blocked slot: %w", err)
	}
	return created, nil
}

func (r *PgRepository) DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM blocked_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blocked slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockedSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListBlockedSlots(ctx context.Context, from, to civil.Date) ([]BlockedSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+blockedColumns+`
		FROM blocked_slots
		WHERE blocked_date BETWEEN $1::date AND $2::date
		ORDER BY blocked_date, slot_time
	`, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	return collectBlockedSlots(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
