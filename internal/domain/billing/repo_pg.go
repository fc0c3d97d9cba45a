package billing

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

// -- Bills --

const billCols = `id, bill_number, appointment_id, patient_id, total_amount, paid_amount, due_amount,
	discount, status, created_by, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.AppointmentID, &b.PatientID, &b.TotalAmount, &b.PaidAmount,
		&b.DueAmount, &b.Discount, &b.Status, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bill: %w", err)
	}
	return &b, nil
}

func (r *repoPG) CreateBill(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bills (id, bill_number, appointment_id, patient_id, total_amount, paid_amount,
			due_amount, discount, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		b.ID, b.BillNumber, b.AppointmentID, b.PatientID, b.TotalAmount, b.PaidAmount,
		b.DueAmount, b.Discount, string(b.Status), b.CreatedBy,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err, "bills_appointment_key") {
		return ErrBillExists
	}
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}

	for _, item := range b.Items {
		item.BillID = b.ID
		if err := r.AddItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Bill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) UpdateAmounts(ctx context.Context, b *Bill) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bills SET total_amount=$2, paid_amount=$3, due_amount=$4, status=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.TotalAmount, b.PaidAmount, b.DueAmount, string(b.Status),
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBillNotFound
	}
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	return nil
}

// -- Items --

func (r *repoPG) AddItem(ctx context.Context, item *BillItem) error {
	item.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill_items (id, bill_id, description, category, quantity, unit_price, discount, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		item.ID, item.BillID, item.Description, item.Category, item.Quantity, item.UnitPrice, item.Discount, item.Total,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bill item: %w", err)
	}
	return nil
}

func (r *repoPG) ListItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, description, category, quantity, unit_price, discount, total, created_at
		FROM bill_items WHERE bill_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	defer rows.Close()

	var items []*BillItem
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.Description, &it.Category, &it.Quantity,
			&it.UnitPrice, &it.Discount, &it.Total, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// -- Payments --

func (r *repoPG) CreatePayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, bill_id, amount, method, status, reference, performed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		p.ID, p.BillID, p.Amount, string(p.Method), string(p.Status), p.Reference, p.PerformedBy,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *repoPG) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, method, status, reference, performed_by, created_at
		FROM payments WHERE bill_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Method, &p.Status, &p.Reference,
			&p.PerformedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
