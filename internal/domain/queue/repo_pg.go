package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) Active(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Entry, error) {
	statuses := make([]string, len(appointment.ActiveStatuses))
	for i, s := range appointment.ActiveStatuses {
		statuses[i] = string(s)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.patient_id, p.patient_code, p.name, a.serial_number, a.queue_position,
			a.status, a.appointment_type, a.entry_time
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.doctor_id = $1 AND a.appointment_date = $2 AND a.status = ANY($3)
		ORDER BY a.queue_position, a.serial_number`,
		doctorID, day, statuses)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.AppointmentID, &e.PatientID, &e.PatientCode, &e.PatientName,
			&e.SerialNumber, &e.QueuePosition, &e.Status, &e.Type, &e.EntryTime); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
