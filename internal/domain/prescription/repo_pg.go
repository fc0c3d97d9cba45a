package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, notes, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.Notes, p.CreatedBy,
	).Scan(&p.CreatedAt)
	if db.IsUniqueViolation(err, "prescriptions_appointment_key") {
		return ErrPrescriptionExists
	}
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for _, it := range p.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO prescription_items (prescription_id, position, medicine_name, instruction, duration)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, it.Position, it.MedicineName, it.Instruction, it.Duration); err != nil {
			return fmt.Errorf("insert prescription item %d: %w", it.Position, err)
		}
	}
	return nil
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	q := r.conn(ctx)
	var p Prescription
	err := q.QueryRow(ctx, `
		SELECT id, appointment_id, notes, created_by, created_at
		FROM prescriptions WHERE appointment_id = $1`, appointmentID,
	).Scan(&p.ID, &p.AppointmentID, &p.Notes, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT position, medicine_name, instruction, duration
		FROM prescription_items WHERE prescription_id = $1 ORDER BY position`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list prescription items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.Position, &it.MedicineName, &it.Instruction, &it.Duration)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan prescription items: %w", err)
	}
	p.Items = items
	return &p, nil
}
