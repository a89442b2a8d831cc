package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"

	"github.com/hackgods/practice-booking/internal/schedule"
)

// ErrValidation matches any ValidationErrors through errors.Is.
var ErrValidation = errors.New("validation failed")

// CreateRequest is the patient-supplied booking form.
type CreateRequest struct {
	FirstName string `json:"first_name" validate:"required,min=2,max=50"`
	LastName  string `json:"last_name" validate:"required,min=2,max=50"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"required,phone_digits"`
	Reason    string `json:"reason" validate:"required,min=5,max=500"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	Period    string `json:"period" validate:"omitempty,oneof=morning afternoon"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every violation found in a request.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// slotRequest is a validated and normalized CreateRequest.
type slotRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Reason    string
	Date      civil.Date
	Time      schedule.SlotTime
	Period    schedule.Period
}

type Validator struct {
	validate *validator.Validate
	catalog  *schedule.Catalog
}

func NewValidator(catalog *schedule.Catalog) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("phone_digits", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})
	return &Validator{validate: v, catalog: catalog}
}

// ValidateCreate checks every field and reports all violations at once.
func (v *Validator) ValidateCreate(req CreateRequest) (*slotRequest, error) {
	req = normalize(req)

	var violations ValidationErrors
	if err := v.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validate booking request: %w", err)
		}
		for _, fe := range fieldErrs {
			violations = append(violations, FieldError{Field: fe.Field(), Message: describe(fe)})
		}
	}

	out := &slotRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Reason:    req.Reason,
	}

	if !violations.has("date") {
		d, err := civil.ParseDate(req.Date)
		if err != nil {
			violations = append(violations, FieldError{Field: "date", Message: "must be a calendar date (YYYY-MM-DD)"})
		}
		out.Date = d
	}

	if !violations.has("time") {
		t, err := schedule.ParseSlotTime(req.Time)
		if err != nil {
			violations = append(violations, FieldError{Field: "time", Message: "must use the HH:MM format"})
		} else if period, err := v.catalog.PeriodOf(t); err != nil {
			violations = append(violations, FieldError{Field: "time", Message: "is not a bookable slot"})
		} else {
			out.Time = t
			out.Period = period
			if req.Period != "" && !violations.has("period") && schedule.Period(req.Period) != period {
				violations = append(violations, FieldError{
					Field:   "period",
					Message: fmt.Sprintf("does not match time %s (%s)", t, period),
				})
			}
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return out, nil
}

func (v ValidationErrors) has(field string) bool {
	for _, fe := range v {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func normalize(req CreateRequest) CreateRequest {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Period = strings.ToLower(strings.TrimSpace(req.Period))
	return req
}

// validPhone accepts 10 to 15 digits with an optional leading + and
// common separators.
func validPhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '.', r == '-', r == '(', r == ')':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "phone_digits":
		return "must contain 10 to 15 digits"
	case "datetime":
		return fmt.Sprintf("must match the format %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}
