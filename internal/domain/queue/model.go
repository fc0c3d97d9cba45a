package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
)

const resourcePrefix = "queue:"

// Resource is the hub and bus key for a doctor's live queue.
func Resource(doctorID uuid.UUID) string {
	return resourcePrefix + doctorID.String()
}

// DoctorFromResource reverses Resource.
func DoctorFromResource(resource string) (uuid.UUID, bool) {
	if !strings.HasPrefix(resource, resourcePrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(resource, resourcePrefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Entry is one active appointment as shown on the queue board.
type Entry struct {
	AppointmentID uuid.UUID          `json:"appointment_id"`
	PatientID     uuid.UUID          `json:"patient_id"`
	PatientCode   string             `json:"patient_code"`
	PatientName   string             `json:"patient_name"`
	SerialNumber  int                `json:"serial_number"`
	QueuePosition int                `json:"queue_position"`
	Status        appointment.Status `json:"status"`
	Type          appointment.Type   `json:"appointment_type"`
	EntryTime     *time.Time         `json:"entry_time,omitempty"`
}

// Snapshot is the full ordered active queue of one doctor for one day. It
// is always sent whole, never as a diff.
type Snapshot struct {
	DoctorID       uuid.UUID `json:"doctor_id"`
	Day            string    `json:"day"`
	Entries        []Entry   `json:"entries"`
	Waiting        int       `json:"waiting"`
	InConsultation int       `json:"in_consultation"`
	GeneratedAt    time.Time `json:"generated_at"`
}

func NewSnapshot(doctorID uuid.UUID, day time.Time, entries []Entry, now time.Time) *Snapshot {
	if entries == nil {
		entries = []Entry{}
	}
	s := &Snapshot{
		DoctorID:    doctorID,
		Day:         day.Format(time.DateOnly),
		Entries:     entries,
		GeneratedAt: now.UTC(),
	}
	for _, e := range entries {
		switch e.Status {
		case appointment.StatusWaiting:
			s.Waiting++
		case appointment.StatusInConsultation:
			s.InConsultation++
		}
	}
	return s
}
