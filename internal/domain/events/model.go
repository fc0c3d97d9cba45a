package events

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var (
	ErrEventNotFound       = apperr.NotFound("event not found")
	ErrUnknownAppointment  = apperr.NotFound("appointment not found")
	ErrUnknownEventType    = apperr.Validation("unknown event type")
	ErrEventTypeNotAllowed = apperr.Validation("event type is recorded by the clinic workflow and cannot be posted directly")
)

// Event is one immutable entry of an appointment's history. Seq breaks ties
// between events written in the same instant.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Seq           int64           `json:"seq"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Type          EventType       `json:"event_type"`
	PerformedBy   *string         `json:"performed_by,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	PerformedAt   time.Time       `json:"performed_at"`
}

// Entry is an event to append. Metadata is marshalled with encoding/json;
// a json.RawMessage is stored as is.
type Entry struct {
	AppointmentID uuid.UUID
	Type          EventType
	PerformedBy   string
	Description   string
	Metadata      any
}

// TimelineItem decorates an event with its catalog entry.
type TimelineItem struct {
	*Event
	Category Category `json:"category"`
	Label    string   `json:"label"`
}

// Journey is an appointment's timeline plus the durations front-desk staff
// ask about. A nil duration means the closing event has not happened yet.
type Journey struct {
	AppointmentID       uuid.UUID      `json:"appointment_id"`
	Events              []TimelineItem `json:"events"`
	WaitingMinutes      *int           `json:"waiting_minutes,omitempty"`
	ConsultationMinutes *int           `json:"consultation_minutes,omitempty"`
	TotalMinutes        *int           `json:"total_minutes,omitempty"`
}

// minutesBetween rounds to whole minutes.
func minutesBetween(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// latestOf returns the most recent event of type t in an ordered timeline.
func latestOf(timeline []*Event, t EventType) *Event {
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].Type == t {
			return timeline[i]
		}
	}
	return nil
}

func durationIn(timeline []*Event, start EventType, end ...EventType) *int {
	s := latestOf(timeline, start)
	if s == nil {
		return nil
	}
	for _, t := range end {
		if e := latestOf(timeline, t); e != nil {
			m := minutesBetween(s.PerformedAt, e.PerformedAt)
			return &m
		}
	}
	return nil
}

// BuildJourney derives a Journey from an ordered timeline.
func BuildJourney(appointmentID uuid.UUID, timeline []*Event) *Journey {
	j := &Journey{AppointmentID: appointmentID, Events: make([]TimelineItem, 0, len(timeline))}
	for _, e := range timeline {
		info, _ := Lookup(e.Type)
		j.Events = append(j.Events, TimelineItem{Event: e, Category: info.Category, Label: e.Type.Description()})
	}
	j.WaitingMinutes = durationIn(timeline, Registered, ConsultationStarted)
	j.ConsultationMinutes = durationIn(timeline, ConsultationStarted, Completed)
	j.TotalMinutes = durationIn(timeline, Registered, Completed, Cancelled)
	return j
}
