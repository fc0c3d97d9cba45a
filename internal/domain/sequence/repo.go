package sequence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// IncrementSerial bumps the doctor-day counter and returns the new value,
	// locking the counter row.
	IncrementSerial(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	// LockDay locks the doctor-day counter row without changing it.
	LockDay(ctx context.Context, doctorID uuid.UUID, day time.Time) error
	// CountActive counts WAITING and IN_CONSULTATION appointments.
	CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	// NextYearly bumps and returns the counter for scope and year.
	NextYearly(ctx context.Context, scope string, year int) (int, error)
}
