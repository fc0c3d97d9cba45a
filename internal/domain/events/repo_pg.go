package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const eventCols = `id, seq, appointment_id, event_type, performed_by, description, metadata, performed_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var metadata []byte
	if err := row.Scan(&e.ID, &e.Seq, &e.AppointmentID, &e.Type, &e.PerformedBy,
		&e.Description, &metadata, &e.PerformedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		e.Metadata = metadata
	}
	return &e, nil
}

func (r *repoPG) Insert(ctx context.Context, evs []*Event) error {
	if len(evs) == 0 {
		return nil
	}

	const perRow = 7
	var sb strings.Builder
	args := make([]any, 0, len(evs)*perRow)
	byID := make(map[uuid.UUID]*Event, len(evs))
	for i, e := range evs {
		e.ID = uuid.New()
		byID[e.ID] = e
		if i > 0 {
			sb.WriteString(",")
		}
		n := i * perRow
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		var metadata any
		if len(e.Metadata) > 0 {
			metadata = []byte(e.Metadata)
		}
		args = append(args, e.ID, e.AppointmentID, string(e.Type), e.PerformedBy, e.Description, metadata, e.PerformedAt)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		INSERT INTO appointment_events (id, appointment_id, event_type, performed_by, description, metadata, performed_at)
		VALUES `+sb.String()+`
		RETURNING id, seq`, args...)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownAppointment
		}
		return fmt.Errorf("insert events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var seq int64
		if err := rows.Scan(&id, &seq); err != nil {
			return err
		}
		if e, ok := byID[id]; ok {
			e.Seq = seq
		}
	}
	if err := rows.Err(); err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrUnknownAppointment
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (r *repoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM appointment_events
		WHERE appointment_id = $1
		ORDER BY performed_at, seq`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) Latest(ctx context.Context, appointmentID uuid.UUID, t EventType) (*Event, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx, `
		SELECT `+eventCols+` FROM appointment_events
		WHERE appointment_id = $1 AND event_type = $2
		ORDER BY performed_at DESC, seq DESC
		LIMIT 1`, appointmentID, string(t)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest event: %w", err)
	}
	return e, nil
}
