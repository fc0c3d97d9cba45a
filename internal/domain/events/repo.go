package events

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert writes all events in one statement and fills ID and Seq.
	Insert(ctx context.Context, evs []*Event) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Event, error)
	Latest(ctx context.Context, appointmentID uuid.UUID, t EventType) (*Event, error)
}
