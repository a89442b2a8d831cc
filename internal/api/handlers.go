package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/booking"
	"github.com/hackgods/practice-booking/internal/schedule"
)

const maxBodyBytes = 16 << 10

// defaultBlockedRangeDays is used when a blocked slot listing has no end date.
const defaultBlockedRangeDays = 30

func availabilityHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := civil.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		day, err := svc.Availability(r.Context(), date)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(day))
	}
}

func createBookingHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		b, err := svc.CreateBooking(r.Context(), req)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func getBookingByTokenHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.GetBookingByToken(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingSummary(b))
	}
}

func cancelBookingHandler(svc BookingService, actor booking.Actor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelBookingRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		b, err := svc.CancelBooking(r.Context(), chi.URLParam(r, "token"), actor, req.Message)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingSummary(b))
	}
}

func confirmBookingHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := svc.ConfirmBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func listBlockedSlotsHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := civil.ParseDate(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "from must be YYYY-MM-DD")
			return
		}
		to := from.AddDays(defaultBlockedRangeDays)
		if raw := q.Get("to"); raw != "" {
			if to, err = civil.ParseDate(raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "to must be YYYY-MM-DD")
				return
			}
		}

		slots, err := svc.ListBlockedSlots(r.Context(), from, to)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		resp := make([]BlockedSlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toBlockedSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createBlockedSlotHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockSlotRequest
		if err := decodeJSON(w, r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var violations booking.ValidationErrors
		date, err := civil.ParseDate(req.Date)
		if err != nil {
			violations = append(violations, booking.FieldError{Field: "date", Message: "must be YYYY-MM-DD"})
		}
		t, err := schedule.ParseSlotTime(req.Time)
		if err != nil {
			violations = append(violations, booking.FieldError{Field: "time", Message: "must use the HH:MM format"})
		}
		if len(violations) > 0 {
			handleServiceError(w, r, logger, violations)
			return
		}

		created, err := svc.BlockSlot(r.Context(), date, t, req.Reason)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockedSlotResponse(created))
	}
}

func deleteBlockedSlotHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_blocked_slot_id", "id must be a valid UUID")
			return
		}

		if err := svc.UnblockSlot(r.Context(), id); err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeJSON reads a bounded JSON body. With optional set, an empty body
// leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var violations booking.ValidationErrors
	switch {
	case errors.As(err, &violations):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: "one or more fields are invalid",
			Fields:  violations,
		})
	case errors.Is(err, booking.ErrAdvanceNotice):
		writeError(w, http.StatusUnprocessableEntity, "advance_notice_violation", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "the requested slot is no longer available")
	case errors.Is(err, booking.ErrTooLateToCancel):
		writeError(w, http.StatusUnprocessableEntity, "too_late_to_cancel", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrBlockedSlotNotFound):
		writeError(w, http.StatusNotFound, "blocked_slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBlocked):
		writeError(w, http.StatusConflict, "slot_already_blocked", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
