package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Active returns the doctor's WAITING and IN_CONSULTATION appointments
	// for day ordered by queue position.
	Active(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Entry, error)
}
