package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const apptCols = `id, patient_id, doctor_id, appointment_type, status, serial_number, queue_position,
	appointment_date, appointment_month, chief_complaint, diagnosis, entry_time, exit_time,
	created_by, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Type, &a.Status, &a.SerialNumber, &a.QueuePosition,
		&a.AppointmentDate, &a.AppointmentMonth, &a.ChiefComplaint, &a.Diagnosis, &a.EntryTime, &a.ExitTime,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func activeStatuses() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_type, status, serial_number,
			queue_position, appointment_date, appointment_month, chief_complaint, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, string(a.Type), string(a.Status), a.SerialNumber,
		a.QueuePosition, a.AppointmentDate, a.AppointmentMonth, a.ChiefComplaint, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) getOne(ctx context.Context, query string, args ...any) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.getOne(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.getOne(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status=$2, entry_time=$3, exit_time=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), a.EntryTime, a.ExitTime,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateDetails(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET chief_complaint=$2, diagnosis=$3, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ChiefComplaint, a.Diagnosis,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("update appointment details: %w", err)
	}
	return nil
}

func (r *repoPG) ListActiveForUpdate(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status = ANY($3)
		ORDER BY queue_position, serial_number
		FOR UPDATE`, doctorID, day, activeStatuses())
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdatePositions(ctx context.Context, moves []PositionMove) error {
	if len(moves) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(moves))
	positions := make([]int32, len(moves))
	for i, m := range moves {
		ids[i] = m.AppointmentID
		positions[i] = int32(m.To)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments AS a SET queue_position = m.position, updated_at = NOW()
		FROM unnest($1::uuid[], $2::int[]) AS m(id, position)
		WHERE a.id = m.id`, ids, positions)
	if err != nil {
		return fmt.Errorf("update queue positions: %w", err)
	}
	return nil
}

func (r *repoPG) FirstWaitingForUpdate(ctx context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status = $3
		ORDER BY queue_position, serial_number
		LIMIT 1
		FOR UPDATE`, doctorID, day, string(StatusWaiting)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPatientsWaiting
	}
	if err != nil {
		return nil, fmt.Errorf("first waiting appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	q := db.NewListQuery("appointments", apptCols).OrderBy("appointment_date DESC, doctor_id, serial_number")
	if f.DoctorID != nil {
		q.Eq("doctor_id", *f.DoctorID)
	}
	if f.PatientID != nil {
		q.Eq("patient_id", *f.PatientID)
	}
	if f.Day != nil {
		q.Eq("appointment_date", *f.Day)
	}
	if f.Status != nil {
		q.Eq("status", string(*f.Status))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
