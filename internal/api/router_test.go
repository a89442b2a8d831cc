package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hackgods/practice-booking/internal/booking"
	"github.com/hackgods/practice-booking/internal/schedule"
)

// fakeService lets each test script the service outcome.
type fakeService struct {
	availability func(civil.Date) (*booking.DayAvailability, error)
	create       func(booking.CreateRequest) (*booking.Booking, error)
	byToken      func(string) (*booking.Booking, error)
	cancel       func(string, booking.Actor, string) (*booking.Booking, error)
	confirm      func(uuid.UUID) (*booking.Booking, error)
	block        func(civil.Date, schedule.SlotTime, string) (*booking.BlockedSlot, error)
	unblock      func(uuid.UUID) error
	listBlocked  func(civil.Date, civil.Date) ([]booking.BlockedSlot, error)
}

func (f *fakeService) Availability(_ context.Context, d civil.Date) (*booking.DayAvailability, error) {
	return f.availability(d)
}

func (f *fakeService) CreateBooking(_ context.Context, req booking.CreateRequest) (*booking.Booking, error) {
	return f.create(req)
}

func (f *fakeService) GetBookingByToken(_ context.Context, token string) (*booking.Booking, error) {
	return f.byToken(token)
}

func (f *fakeService) CancelBooking(_ context.Context, token string, actor booking.Actor, msg string) (*booking.Booking, error) {
	return f.cancel(token, actor, msg)
}

func (f *fakeService) ConfirmBooking(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	return f.confirm(id)
}

func (f *fakeService) BlockSlot(_ context.Context, d civil.Date, t schedule.SlotTime, reason string) (*booking.BlockedSlot, error) {
	return f.block(d, t, reason)
}

func (f *fakeService) UnblockSlot(_ context.Context, id uuid.UUID) error {
	return f.unblock(id)
}

func (f *fakeService) ListBlockedSlots(_ context.Context, from, to civil.Date) ([]booking.BlockedSlot, error) {
	return f.listBlocked(from, to)
}

type pingerFunc func(ctx context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

const practitionerKey = "secret-key"

func newTestRouter(svc *fakeService) http.Handler {
	return NewRouter(RouterConfig{
		Service:            svc,
		PgPool:             pingerFunc(func(context.Context) error { return nil }),
		PractitionerAPIKey: practitionerKey,
		Env:                "test",
		Version:            "v0",
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sampleBooking() *booking.Booking {
	return &booking.Booking{
		ID:                uuid.New(),
		FirstName:         "Marie",
		LastName:          "Curie",
		Email:             "marie@example.com",
		Date:              civil.Date{Year: 2026, Month: 10, Day: 21},
		Time:              schedule.MustParseSlotTime("09:00"),
		Period:            schedule.Morning,
		Status:            booking.StatusPending,
		CancellationToken: "tok",
		CreatedAt:         time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC),
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	svc := &fakeService{availability: func(d civil.Date) (*booking.DayAvailability, error) {
		return &booking.DayAvailability{
			Date:      d,
			Open:      true,
			Degraded:  true,
			Morning:   []schedule.SlotTime{schedule.MustParseSlotTime("09:30")},
			Afternoon: []schedule.SlotTime{},
		}, nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/availability?date=2026-10-21", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-10-21", resp.Date)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"09:30"}, resp.Morning)
	assert.Equal(t, []string{}, resp.Afternoon)

	rec = do(t, h, http.MethodGet, "/availability?date=21/10/2026", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decodeError(t, rec).Error)
}

func TestCreateBookingEndpoint(t *testing.T) {
	var got booking.CreateRequest
	svc := &fakeService{create: func(req booking.CreateRequest) (*booking.Booking, error) {
		got = req
		return sampleBooking(), nil
	}}
	h := newTestRouter(svc)

	body := `{"first_name":"Marie","last_name":"Curie","email":"marie@example.com","phone":"0612345678",
		"reason":"Annual check-up","date":"2026-10-21","time":"09:00","period":"morning"}`
	rec := do(t, h, http.MethodPost, "/bookings", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "09:00", got.Time)
	assert.Equal(t, "morning", got.Period)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tok", resp.CancellationToken)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "pending", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateBookingEndpoint_ReportsDegradedCheck(t *testing.T) {
	svc := &fakeService{create: func(booking.CreateRequest) (*booking.Booking, error) {
		b := sampleBooking()
		b.Degraded = true
		return b, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
}

func TestCreateBookingEndpoint_MalformedBody(t *testing.T) {
	h := newTestRouter(&fakeService{})

	rec := do(t, h, http.MethodPost, "/bookings", `{"first_name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{booking.ValidationErrors{{Field: "email", Message: "is required"}}, http.StatusBadRequest, "validation_failed"},
		{booking.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{fmt.Errorf("%w: %w", booking.ErrSlotUnavailable, booking.ErrSlotTaken), http.StatusConflict, "slot_unavailable"},
		{booking.ErrAdvanceNotice, http.StatusUnprocessableEntity, "advance_notice_violation"},
		{booking.ErrTooLateToCancel, http.StatusUnprocessableEntity, "too_late_to_cancel"},
		{booking.ErrBookingNotFound, http.StatusNotFound, "booking_not_found"},
		{booking.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
		{fmt.Errorf("%w: completed -> cancelled", booking.ErrInvalidStatusTransition), http.StatusConflict, "invalid_status_transition"},
		{errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &fakeService{create: func(booking.CreateRequest) (*booking.Booking, error) {
				return nil, tt.err
			}}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", `{}`)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			assert.NotContains(t, resp.Details, "connection refused")
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	svc := &fakeService{create: func(booking.CreateRequest) (*booking.Booking, error) {
		return nil, booking.ValidationErrors{
			{Field: "email", Message: "is required"},
			{Field: "time", Message: "is not a bookable slot"},
		}
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", `{}`)
	resp := decodeError(t, rec)
	require.Len(t, resp.Fields, 2)
	assert.Equal(t, "time", resp.Fields[1].Field)
}

func TestCancelEndpoints(t *testing.T) {
	var gotActor booking.Actor
	var gotMsg, gotToken string
	svc := &fakeService{cancel: func(token string, actor booking.Actor, msg string) (*booking.Booking, error) {
		gotToken, gotActor, gotMsg = token, actor, msg
		b := sampleBooking()
		b.Status = booking.StatusCancelled
		b.CancelledBy = &actor
		return b, nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/bookings/cancel/tok", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.ActorPatient, gotActor)
	assert.Equal(t, "tok", gotToken)

	var summary BookingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "cancelled", summary.Status)
	require.NotNil(t, summary.CancelledBy)
	assert.Equal(t, "patient", *summary.CancelledBy)

	rec = do(t, h, http.MethodPost, "/practitioner/bookings/cancel/tok", `{"message":"Sorry"}`,
		"Authorization", "Bearer "+practitionerKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.ActorDoctor, gotActor)
	assert.Equal(t, "Sorry", gotMsg)
}

func TestGetBookingByTokenHidesContactDetails(t *testing.T) {
	svc := &fakeService{byToken: func(token string) (*booking.Booking, error) {
		if token != "tok" {
			return nil, booking.ErrBookingNotFound
		}
		return sampleBooking(), nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/bookings/cancel/tok", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "marie@example.com")
	assert.NotContains(t, rec.Body.String(), "cancellation_token")

	rec = do(t, h, http.MethodGet, "/bookings/cancel/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPractitionerAuth(t *testing.T) {
	svc := &fakeService{confirm: func(id uuid.UUID) (*booking.Booking, error) {
		b := sampleBooking()
		b.ID = id
		b.Status = booking.StatusConfirmed
		return b, nil
	}}
	h := newTestRouter(svc)
	path := "/practitioner/bookings/" + uuid.NewString() + "/confirm"

	rec := do(t, h, http.MethodPost, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, path, "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, path, "", "Authorization", "Bearer "+practitionerKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/practitioner/bookings/not-a-uuid/confirm", "", "Authorization", "Bearer "+practitionerKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := NewRouter(RouterConfig{Service: svc, PgPool: pingerFunc(func(context.Context) error { return nil })})
	rec = do(t, disabled, http.MethodPost, path, "", "Authorization", "Bearer ")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBlockedSlotEndpoints(t *testing.T) {
	blockedID := uuid.New()
	var gotFrom, gotTo civil.Date
	svc := &fakeService{
		block: func(d civil.Date, tm schedule.SlotTime, reason string) (*booking.BlockedSlot, error) {
			return &booking.BlockedSlot{ID: blockedID, Date: d, Time: tm, Reason: reason}, nil
		},
		listBlocked: func(from, to civil.Date) ([]booking.BlockedSlot, error) {
			gotFrom, gotTo = from, to
			return []booking.BlockedSlot{{ID: blockedID, Date: from, Time: schedule.MustParseSlotTime("14:00")}}, nil
		},
		unblock: func(id uuid.UUID) error {
			if id != blockedID {
				return booking.ErrBlockedSlotNotFound
			}
			return nil
		},
	}
	h := newTestRouter(svc)
	auth := []string{"Authorization", "Bearer " + practitionerKey}

	rec := do(t, h, http.MethodPost, "/practitioner/blocked-slots", `{"date":"2026-10-21","time":"14:00","reason":"training"}`, auth...)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created BlockedSlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "14:00", created.Time)

	rec = do(t, h, http.MethodPost, "/practitioner/blocked-slots", `{"date":"tomorrow","time":"2pm"}`, auth...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeError(t, rec).Fields, 2)

	rec = do(t, h, http.MethodGet, "/practitioner/blocked-slots?from=2026-10-20", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, civil.Date{Year: 2026, Month: 11, Day: 19}, gotTo)
	assert.Equal(t, civil.Date{Year: 2026, Month: 10, Day: 20}, gotFrom)

	rec = do(t, h, http.MethodDelete, "/practitioner/blocked-slots/"+blockedID.String(), "", auth...)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/practitioner/blocked-slots/"+uuid.NewString(), "", auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitOnBookingCreation(t *testing.T) {
	svc := &fakeService{create: func(booking.CreateRequest) (*booking.Booking, error) {
		return sampleBooking(), nil
	}}
	h := NewRouter(RouterConfig{
		Service:          svc,
		PgPool:           pingerFunc(func(context.Context) error { return nil }),
		BookingRateLimit: rate.Every(time.Hour),
		BookingRateBurst: 2,
	})

	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/bookings", `{}`).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/bookings", `{}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/bookings", `{}`).Code)

	// another client has its own bucket
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/bookings", `{}`, "X-Real-IP", "203.0.113.9").Code)
}

func TestHealthEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pgErr := error(nil)
	h := NewRouter(RouterConfig{
		Service: &fakeService{},
		PgPool:  pingerFunc(func(context.Context) error { return pgErr }),
		Redis:   rdb,
		Env:     "test",
		Version: "v1",
	})

	rec := do(t, h, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "ok", ready.Dependencies["redis"])

	mr.Close()
	rec = do(t, h, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)

	pgErr = errors.New("down")
	rec = do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecovererReturns500(t *testing.T) {
	svc := &fakeService{availability: func(civil.Date) (*booking.DayAvailability, error) {
		panic("boom")
	}}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/availability?date=2026-10-21", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
