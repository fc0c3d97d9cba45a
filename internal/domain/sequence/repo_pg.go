package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

// The upsert takes the row lock whether it inserts or updates, so two
// transactions for the same doctor-day serialise here.
func (r *repoPG) IncrementSerial(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var serial int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_day_counters (doctor_id, day, last_serial)
		VALUES ($1, $2, 1)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET last_serial = doctor_day_counters.last_serial + 1
		RETURNING last_serial`, doctorID, day).Scan(&serial)
	if err != nil {
		return 0, fmt.Errorf("increment serial: %w", err)
	}
	return serial, nil
}

func (r *repoPG) LockDay(ctx context.Context, doctorID uuid.UUID, day time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_day_counters (doctor_id, day, last_serial)
		VALUES ($1, $2, 0)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET last_serial = doctor_day_counters.last_serial`, doctorID, day)
	if err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	return nil
}

func (r *repoPG) CountActive(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		  AND status IN ('WAITING', 'IN_CONSULTATION')`, doctorID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func (r *repoPG) NextYearly(ctx context.Context, scope string, year int) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO yearly_counters (scope, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (scope, year)
		DO UPDATE SET last_value = yearly_counters.last_value + 1
		RETURNING last_value`, scope, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next %s number: %w", scope, err)
	}
	return n, nil
}
