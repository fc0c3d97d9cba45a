package doctor

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var ErrDoctorNotFound = apperr.NotFound("doctor not found")

// Doctor is the read-only view of an employee who sees patients.
type Doctor struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Department      string          `json:"department"`
	Specialization  string          `json:"specialization"`
	ConsultationFee decimal.Decimal `json:"consultation_fee"`
	HospitalFee     decimal.Decimal `json:"hospital_fee"`
	IsAvailable     bool            `json:"is_available"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Fees is the fee schedule a bill is generated from.
type Fees struct {
	Consultation decimal.Decimal `json:"consultation"`
	Hospital     decimal.Decimal `json:"hospital"`
}

// Total is consultation plus hospital fee.
func (f Fees) Total() decimal.Decimal {
	return f.Consultation.Add(f.Hospital)
}

// Fees returns the doctor's fee schedule; negative values are treated as 0.
func (d *Doctor) Fees() Fees {
	return Fees{
		Consultation: nonNegative(d.ConsultationFee),
		Hospital:     nonNegative(d.HospitalFee),
	}
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
