package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository methods suffixed ForUpdate lock the rows they return. Callers
// must hold the doctor-day lock first.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus writes status, entry and exit times.
	UpdateStatus(ctx context.Context, a *Appointment) error
	UpdateDetails(ctx context.Context, a *Appointment) error
	// ListActiveForUpdate returns WAITING and IN_CONSULTATION appointments
	// for the doctor-day ordered by queue position.
	ListActiveForUpdate(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error)
	UpdatePositions(ctx context.Context, moves []PositionMove) error
	// FirstWaitingForUpdate returns ErrNoPatientsWaiting when the queue has
	// nobody waiting.
	FirstWaitingForUpdate(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}
