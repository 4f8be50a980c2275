package scheduler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"checkpilot/internal/checkin"
)

// Request is a caller's ask to check a traveler in.
type Request struct {
	ConfirmationCode string `json:"confirmationNumber" validate:"required,len=6,alphanum"`
	FirstName        string `json:"firstName" validate:"required,max=64"`
	LastName         string `json:"lastName" validate:"required,max=64"`
}

// ReconcileRequest reports progress for a record handed off to an external
// scheduler.
type ReconcileRequest struct {
	Status           checkin.Status `json:"status" validate:"required,oneof=checking-in completed failed"`
	BoardingPosition string         `json:"boardingPosition,omitempty" validate:"omitempty,max=8"`
	Error            string         `json:"error,omitempty"`
	CheckInTime      *time.Time     `json:"checkInTime,omitempty"`
}

// LogView is the progress log of one record with enough context to render it.
type LogView struct {
	ID          string             `json:"id"`
	Status      checkin.Status     `json:"status"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Entries     []checkin.LogEntry `json:"entries"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func normalizeRequest(req Request) Request {
	return Request{
		ConfirmationCode: checkin.NormalizeCode(req.ConfirmationCode),
		FirstName:        checkin.NormalizeName(req.FirstName),
		LastName:         checkin.NormalizeName(req.LastName),
	}
}

func validationError(v *validator.Validate, value any) error {
	err := v.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", checkin.ErrValidation, err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, describeField(fe))
	}
	return fmt.Errorf("%w: %s", checkin.ErrValidation, strings.Join(messages, "; "))
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "len":
		return fmt.Sprintf("%s must be %s characters", fe.Field(), fe.Param())
	case "alphanum":
		return fe.Field() + " must contain only letters and digits"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
