package patient

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var (
	ErrPatientNotFound = apperr.NotFound("patient not found")
	ErrPhoneTaken      = apperr.Conflict("a patient with this phone number is already registered")
)

type Patient struct {
	ID          uuid.UUID  `json:"id"`
	PatientCode string     `json:"patient_code"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Gender      string     `json:"gender,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RegisterInput is the subset of patient fields the front desk collects.
// It is embedded in the inline registration of an appointment.
type RegisterInput struct {
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Gender      string     `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Address     string     `json:"address"`
	Notes       string     `json:"notes"`
}

// ProfileUpdate carries the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Notes   *string `json:"notes"`
}

var validGenders = map[string]bool{"": true, "MALE": true, "FEMALE": true, "OTHER": true}

// NormalizePhone drops spaces, dashes and parentheses so that the same
// number typed two ways collides on the unique index.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validatePhone(phone string) error {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 6 || len(digits) > 15 {
		return apperr.Validation("phone must have between 6 and 15 digits")
	}
	return nil
}

// Validate normalises the input in place and checks required fields.
func (in *RegisterInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = NormalizePhone(in.Phone)
	in.Gender = strings.ToUpper(strings.TrimSpace(in.Gender))
	if in.Name == "" {
		return apperr.Validation("name is required")
	}
	if in.Phone == "" {
		return apperr.Validation("phone is required")
	}
	if err := validatePhone(in.Phone); err != nil {
		return err
	}
	if !validGenders[in.Gender] {
		return apperr.Validation("gender must be MALE, FEMALE or OTHER")
	}
	return nil
}
