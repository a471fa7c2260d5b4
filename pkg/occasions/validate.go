package occasions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/occasions/pkg/domain"
	"github.com/jordanlanch/occasions/pkg/recurrence"
	"github.com/nyaruka/phonenumbers"
)

// NewValidator returns a validator with the occasion-specific tags
// registered: daymonth (DD-MM, real calendar day) and clocktime (HH:MM).
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("daymonth", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseDayMonth(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		_, err := recurrence.ParseClockTime(s)
		return err == nil
	})
	return v
}

var fieldMessages = map[string]string{
	"daymonth":  "must be a valid DD-MM date",
	"clocktime": "must be a valid HH:MM time",
	"timezone":  "must be an IANA timezone name",
	"required":  "is required",
	"oneof":     "must be one of: %s",
	"max":       "must be at most %s",
	"min":       "must be at least %s",
	"email":     "must be a valid email address",
}

// validationError turns validator output into a domain validation error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationErrorWrap("Invalid request data", err)
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		parts = append(parts, toSnake(fe.Field())+" "+msg)
	}
	return domain.NewValidationErrorWrap(strings.Join(parts, "; "), err)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizePhone normalizes a phone number to E.164 format.
func NormalizePhone(phone, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = "US"
	}

	parsed, err := phonenumbers.Parse(phone, countryCode)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number")
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
