package booking

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		wantErr  error
	}{
		{StatusPending, StatusConfirmed, nil},
		{StatusPending, StatusCancelled, nil},
		{StatusPending, StatusCompleted, nil},
		{StatusConfirmed, StatusCancelled, nil},
		{StatusConfirmed, StatusCompleted, nil},
		{StatusConfirmed, StatusPending, ErrInvalidStatusTransition},
		{StatusCancelled, StatusCancelled, ErrAlreadyCancelled},
		{StatusCancelled, StatusConfirmed, ErrInvalidStatusTransition},
		{StatusCancelled, StatusPending, ErrInvalidStatusTransition},
		{StatusCompleted, StatusCancelled, ErrInvalidStatusTransition},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusCompleted.Active())
	assert.False(t, StatusCancelled.Active())

	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusConfirmed.Terminal())

	_, err := ParseStatus("expired")
	assert.Error(t, err)
	_, err = ParseActor("nurse")
	assert.Error(t, err)
}

func TestBusyIntervalOverlaps(t *testing.T) {
	busy := BusyInterval{Start: at(21, 10, 0), End: at(21, 11, 0)}

	assert.True(t, busy.Overlaps(at(21, 10, 30), at(21, 11, 0)))
	assert.True(t, busy.Overlaps(at(21, 9, 45), at(21, 10, 15)))
	assert.False(t, busy.Overlaps(at(21, 9, 30), at(21, 10, 0)))
	assert.False(t, busy.Overlaps(at(21, 11, 0), at(21, 11, 30)))
}

func TestBookingStartsAt(t *testing.T) {
	b := Booking{Date: date("2026-10-26"), Time: slot("09:00")}
	// winter time from 2026-10-25
	assert.Equal(t, time.Date(2026, 10, 26, 8, 0, 0, 0, time.UTC), b.StartsAt(paris).UTC())
}

func TestNewCancellationToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewCancellationToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.NotContains(t, tok, "/")
		assert.NotContains(t, tok, "+")
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestMirrorEventID(t *testing.T) {
	b := Booking{ID: [16]byte{0xab, 0xcd}}
	id := MirrorEventID(b.ID)
	assert.Len(t, id, 32)
	assert.Regexp(t, "^[0-9a-v]+$", id)
}

func TestValidPhone(t *testing.T) {
	assert.True(t, validPhone("+33 6 12 34 56 78"))
	assert.True(t, validPhone("(06) 12.34.56.78"))
	assert.False(t, validPhone("12345"))
	assert.False(t, validPhone("+1234567890123456"))
	assert.False(t, validPhone("06 12 34 56 7x"))
}

func TestAsyncDispatcher_RetriesThenSucceeds(t *testing.T) {
	d := NewAsyncDispatcher(DispatcherOptions{Timeout: time.Second, Attempts: 3}, nil, nil)
	var calls atomic.Int32

	d.Dispatch(context.Background(), "flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	d.Wait()

	assert.Equal(t, int32(3), calls.Load())
}

func TestAsyncDispatcher_OutlivesRequestContext(t *testing.T) {
	d := NewAsyncDispatcher(DispatcherOptions{Timeout: time.Second, Attempts: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawErr atomic.Value
	d.Dispatch(ctx, "email", func(ctx context.Context) error {
		sawErr.Store(ctx.Err() == nil)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	d.Wait()

	assert.Equal(t, true, sawErr.Load())
}

func TestAsyncDispatcher_PerAttemptTimeout(t *testing.T) {
	d := NewAsyncDispatcher(DispatcherOptions{Timeout: 20 * time.Millisecond, Attempts: 2}, nil, nil)
	var calls atomic.Int32

	d.Dispatch(context.Background(), "slow", func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	d.Wait()

	assert.Equal(t, int32(2), calls.Load())
}
