package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var (
	ErrAppointmentNotFound = apperr.NotFound("appointment not found")
	ErrInvalidTransition   = apperr.Conflict("invalid status transition")
	ErrNoPatientsWaiting   = apperr.Unprocessable("no patients waiting")
	ErrDoctorUnavailable   = apperr.Validation("doctor is not available")
	ErrInvalidType         = apperr.Validation("appointment_type must be NEW or FOLLOWUP")
	ErrInvalidStatus       = apperr.Validation("unknown appointment status")
	ErrAppointmentClosed   = apperr.Unprocessable("appointment is cancelled")
)

type Type string

const (
	TypeNew      Type = "NEW"
	TypeFollowup Type = "FOLLOWUP"
)

func (t Type) Valid() bool { return t == TypeNew || t == TypeFollowup }

type Status string

const (
	StatusWaiting        Status = "WAITING"
	StatusInConsultation Status = "IN_CONSULTATION"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// ActiveStatuses are the statuses that hold a place in the queue.
var ActiveStatuses = []Status{StatusWaiting, StatusInConsultation}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInConsultation, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Active() bool { return s == StatusWaiting || s == StatusInConsultation }

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

var transitions = map[Status][]Status{
	StatusWaiting:        {StatusInConsultation, StatusCancelled},
	StatusInConsultation: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	Type             Type       `json:"appointment_type"`
	Status           Status     `json:"status"`
	SerialNumber     int        `json:"serial_number"`
	QueuePosition    int        `json:"queue_position"`
	AppointmentDate  time.Time  `json:"appointment_date"`
	AppointmentMonth string     `json:"appointment_month"`
	ChiefComplaint   *string    `json:"chief_complaint,omitempty"`
	Diagnosis        *string    `json:"diagnosis,omitempty"`
	EntryTime        *time.Time `json:"entry_time,omitempty"`
	ExitTime         *time.Time `json:"exit_time,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type CreateInput struct {
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	Type           Type      `json:"appointment_type"`
	ChiefComplaint string    `json:"chief_complaint"`
}

type CreateWithPatientInput struct {
	Patient        patient.RegisterInput `json:"patient"`
	DoctorID       uuid.UUID             `json:"doctor_id"`
	Type           Type                  `json:"appointment_type"`
	ChiefComplaint string                `json:"chief_complaint"`
}

// Registration is what a successful create returns.
type Registration struct {
	Appointment *Appointment     `json:"appointment"`
	Bill        *billing.Bill    `json:"bill"`
	Patient     *patient.Patient `json:"patient,omitempty"`
}

// DetailsUpdate edits clinical notes. Nil means unchanged.
type DetailsUpdate struct {
	ChiefComplaint *string `json:"chief_complaint"`
	Diagnosis      *string `json:"diagnosis"`
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Day       *time.Time
	Status    *Status
}

// PositionMove records a compaction step for one appointment.
type PositionMove struct {
	AppointmentID uuid.UUID
	From          int
	To            int
}

// Compact renumbers active appointments 1..k keeping their relative order.
// active must already be sorted by queue position. It returns only the
// appointments whose position changed and updates them in place.
func Compact(active []*Appointment) []PositionMove {
	var moves []PositionMove
	for i, a := range active {
		want := i + 1
		if a.QueuePosition != want {
			moves = append(moves, PositionMove{AppointmentID: a.ID, From: a.QueuePosition, To: want})
			a.QueuePosition = want
		}
	}
	return moves
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
