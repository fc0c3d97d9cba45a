package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

const phoneConstraint = "patients_phone_key"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, patient_code, name, phone, gender, date_of_birth, address, notes,
	created_by, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientCode, &p.Name, &p.Phone, &p.Gender, &p.DateOfBirth,
		&p.Address, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, patient_code, name, phone, gender, date_of_birth, address, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientCode, p.Name, p.Phone, p.Gender, p.DateOfBirth, p.Address, p.Notes, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	// A duplicate phone must surface as a domain error, not as a retryable
	// unique violation.
	if db.IsUniqueViolation(err, phoneConstraint) {
		return ErrPhoneTaken
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = $1`, phone)
}

func (r *repoPG) getOne(ctx context.Context, query string, arg any) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET name=$2, phone=$3, address=$4, notes=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Phone, p.Address, p.Notes,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	if db.IsUniqueViolation(err, phoneConstraint) {
		return ErrPhoneTaken
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}
