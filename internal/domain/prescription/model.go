package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var (
	ErrPrescriptionNotFound = apperr.NotFound("prescription not found")
	ErrPrescriptionExists   = apperr.Conflict("appointment already has a prescription")
	ErrNotInConsultation    = apperr.Unprocessable("prescriptions can only be written during a consultation")
	ErrNoItems              = apperr.Validation("prescription needs at least one medicine")
	ErrMedicineRequired     = apperr.Validation("medicine_name is required")
)

type Prescription struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Notes         string    `json:"notes"`
	Items         []Item    `json:"items"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Item is one line of a prescription. Position is 1-based and keeps the
// order the doctor wrote them in.
type Item struct {
	Position     int    `json:"position"`
	MedicineName string `json:"medicine_name"`
	Instruction  string `json:"instruction"`
	Duration     string `json:"duration"`
}

type CreateInput struct {
	Notes string `json:"notes"`
	Items []Item `json:"items"`
}

// Normalize trims every field, drops blank lines and renumbers positions.
func (in *CreateInput) Normalize() error {
	in.Notes = strings.TrimSpace(in.Notes)
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		it.MedicineName = strings.TrimSpace(it.MedicineName)
		it.Instruction = strings.TrimSpace(it.Instruction)
		it.Duration = strings.TrimSpace(it.Duration)
		if it.MedicineName == "" {
			if it.Instruction == "" && it.Duration == "" {
				continue
			}
			return ErrMedicineRequired
		}
		it.Position = len(items) + 1
		items = append(items, it)
	}
	if len(items) == 0 {
		return ErrNoItems
	}
	in.Items = items
	return nil
}
