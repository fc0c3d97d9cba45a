package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateBill inserts the bill and its items.
	CreateBill(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetByIDForUpdate locks the bill row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Bill, error)
	UpdateAmounts(ctx context.Context, b *Bill) error

	AddItem(ctx context.Context, item *BillItem) error
	ListItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error)

	CreatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
}
