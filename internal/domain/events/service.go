package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only event log. It never updates or deletes.
type Log struct {
	repo Repository
	now  func() time.Time
}

func NewLog(repo Repository) *Log {
	return &Log{repo: repo, now: time.Now}
}

func (l *Log) build(e Entry, at time.Time) (*Event, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	}
	if e.AppointmentID == uuid.Nil {
		return nil, ErrUnknownAppointment
	}
	ev := &Event{AppointmentID: e.AppointmentID, Type: e.Type, PerformedAt: at}
	if e.PerformedBy != "" {
		by := e.PerformedBy
		ev.PerformedBy = &by
	}
	desc := e.Description
	if desc == "" {
		desc = e.Type.Description()
	}
	ev.Description = &desc

	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode %s metadata: %w", e.Type, err)
		}
		if string(raw) != "null" {
			ev.Metadata = raw
		}
	}
	return ev, nil
}

// Append records a single event.
func (l *Log) Append(ctx context.Context, e Entry) (*Event, error) {
	evs, err := l.AppendBatch(ctx, e)
	if err != nil {
		return nil, err
	}
	return evs[0], nil
}

// AppendBatch records several events in one insert: either all are written
// or none. They share a timestamp and keep their argument order through Seq.
func (l *Log) AppendBatch(ctx context.Context, entries ...Entry) ([]*Event, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	at := l.now().UTC()
	evs := make([]*Event, 0, len(entries))
	for _, e := range entries {
		ev, err := l.build(e, at)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	if err := l.repo.Insert(ctx, evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// Timeline returns every event of the appointment ordered by performed_at,
// then by insertion.
func (l *Log) Timeline(ctx context.Context, appointmentID uuid.UUID) ([]*Event, error) {
	return l.repo.ListByAppointment(ctx, appointmentID)
}

// Latest returns the most recent event of type t, or ErrEventNotFound.
func (l *Log) Latest(ctx context.Context, appointmentID uuid.UUID, t EventType) (*Event, error) {
	return l.repo.Latest(ctx, appointmentID, t)
}

// DurationBetween returns the whole minutes between the latest start and
// end events. ok is false when either is missing. An appointment with no
// events at all does not exist: registration always writes one.
func (l *Log) DurationBetween(ctx context.Context, appointmentID uuid.UUID, start, end EventType) (minutes int, ok bool, err error) {
	s, err := l.latestOrNil(ctx, appointmentID, start)
	if err != nil {
		return 0, false, err
	}
	if s == nil {
		if _, err := l.Journey(ctx, appointmentID); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	e, err := l.latestOrNil(ctx, appointmentID, end)
	if err != nil || e == nil {
		return 0, false, err
	}
	return minutesBetween(s.PerformedAt, e.PerformedAt), true, nil
}

func (l *Log) latestOrNil(ctx context.Context, appointmentID uuid.UUID, t EventType) (*Event, error) {
	e, err := l.repo.Latest(ctx, appointmentID, t)
	if errors.Is(err, ErrEventNotFound) {
		return nil, nil
	}
	return e, err
}

// Journey returns the decorated timeline with waiting, consultation and
// total durations.
func (l *Log) Journey(ctx context.Context, appointmentID uuid.UUID) (*Journey, error) {
	timeline, err := l.Timeline(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if len(timeline) == 0 {
		return nil, ErrUnknownAppointment
	}
	return BuildJourney(appointmentID, timeline), nil
}
