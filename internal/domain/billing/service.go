package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// EventAppender is the part of events.Log the billing workflow writes to.
type EventAppender interface {
	AppendBatch(ctx context.Context, entries ...events.Entry) ([]*events.Event, error)
}

// Service records payments and later changes to a bill.
type Service struct {
	repo   Repository
	events EventAppender
	tx     db.TxManager
	logger zerolog.Logger
}

func NewService(repo Repository, ev EventAppender, tx db.TxManager, logger zerolog.Logger) *Service {
	return &Service{repo: repo, events: ev, tx: tx, logger: logger}
}

type PaymentRequest struct {
	BillID    uuid.UUID       `json:"bill_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	Reference string          `json:"reference"`
}

type ItemRequest struct {
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
}

// RecordPayment applies a payment to a bill. The bill row is locked for the
// duration so two cashiers cannot both settle the same due amount. A
// rejected payment leaves the bill untouched.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest, staffID string) (*Payment, *Bill, error) {
	amount := req.Amount
	if err := checkCents(amount); err != nil {
		return nil, nil, err
	}
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.Method))))
	if !method.Valid() {
		return nil, nil, ErrInvalidMethod
	}

	var (
		p *Payment
		b *Bill
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetByIDForUpdate(ctx, req.BillID)
		if err != nil {
			return err
		}
		if err := b.checkPayable(amount); err != nil {
			return err
		}

		p = &Payment{
			BillID:      b.ID,
			Amount:      amount,
			Method:      method,
			Status:      PaymentSuccess,
			Reference:   strings.TrimSpace(req.Reference),
			PerformedBy: staffID,
		}
		if err := s.repo.CreatePayment(ctx, p); err != nil {
			return err
		}
		b.applyPayment(amount)
		if err := s.repo.UpdateAmounts(ctx, b); err != nil {
			return err
		}

		kind := events.PaymentPartial
		if b.Status == StatusPaid {
			kind = events.PaymentReceived
		}
		_, err = s.events.AppendBatch(ctx, events.Entry{
			AppointmentID: b.AppointmentID,
			Type:          kind,
			PerformedBy:   staffID,
			Metadata: map[string]any{
				"bill_number": b.BillNumber,
				"payment_id":  p.ID,
				"amount":      amount.StringFixed(2),
				"method":      method,
				"paid_amount": b.PaidAmount.StringFixed(2),
				"due_amount":  b.DueAmount.StringFixed(2),
			},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("bill_id", b.ID.String()).Str("amount", amount.StringFixed(2)).
		Str("status", string(b.Status)).Str("staff_id", staffID).Msg("payment recorded")
	return p, b, nil
}

// AddItem appends a service line to an open bill, raising total and due.
func (s *Service) AddItem(ctx context.Context, billID uuid.UUID, req ItemRequest, staffID string) (*Bill, *BillItem, error) {
	category := strings.ToUpper(strings.TrimSpace(req.Category))
	if category == "" {
		category = CategoryService
	}
	item, err := NewItem(strings.TrimSpace(req.Description), category, req.Quantity, req.UnitPrice, req.Discount)
	if err != nil {
		return nil, nil, err
	}

	var b *Bill
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if b.Status.Closed() {
			return ErrBillNotPayable
		}
		item.BillID = b.ID
		if err := s.repo.AddItem(ctx, item); err != nil {
			return err
		}
		b.applyItem(item)
		if err := s.repo.UpdateAmounts(ctx, b); err != nil {
			return err
		}
		_, err = s.events.AppendBatch(ctx, events.Entry{
			AppointmentID: b.AppointmentID,
			Type:          events.BillItemAdded,
			PerformedBy:   staffID,
			Metadata: map[string]any{
				"bill_number": b.BillNumber,
				"description": item.Description,
				"total":       item.Total.StringFixed(2),
				"due_amount":  b.DueAmount.StringFixed(2),
			},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return b, item, nil
}

// OverrideStatus cancels an unpaid bill or marks a paid one refunded.
// Amounts are left as recorded.
func (s *Service) OverrideStatus(ctx context.Context, billID uuid.UUID, status BillStatus, staffID, reason string) (*Bill, error) {
	var kind events.EventType
	switch status {
	case StatusCancelled:
		kind = events.BillCancelled
	case StatusRefunded:
		kind = events.PaymentRefunded
	default:
		return nil, ErrInvalidStatusOverride
	}

	var b *Bill
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if b.Status.Closed() {
			return ErrInvalidStatusOverride
		}
		if status == StatusCancelled && !b.PaidAmount.IsZero() {
			return ErrInvalidStatusOverride
		}
		if status == StatusRefunded && b.PaidAmount.IsZero() {
			return ErrInvalidStatusOverride
		}

		previous := b.Status
		b.Status = status
		if err := s.repo.UpdateAmounts(ctx, b); err != nil {
			return err
		}
		_, err = s.events.AppendBatch(ctx, events.Entry{
			AppointmentID: b.AppointmentID,
			Type:          kind,
			PerformedBy:   staffID,
			Description:   strings.TrimSpace(reason),
			Metadata: map[string]any{
				"bill_number": b.BillNumber,
				"from":        previous,
				"to":          status,
				"paid_amount": b.PaidAmount.StringFixed(2),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().Str("bill_id", b.ID.String()).Str("status", string(status)).
		Str("staff_id", staffID).Msg("bill status overridden")
	return b, nil
}

// GetBill returns a bill with its items and payments.
func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withDetails(ctx, b)
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Bill, error) {
	b, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return s.withDetails(ctx, b)
}

func (s *Service) withDetails(ctx context.Context, b *Bill) (*Bill, error) {
	var err error
	if b.Items, err = s.repo.ListItems(ctx, b.ID); err != nil {
		return nil, err
	}
	if b.Payments, err = s.repo.ListPayments(ctx, b.ID); err != nil {
		return nil, err
	}
	if sum := paidTotal(b.Payments); !sum.Equal(b.PaidAmount) {
		s.logger.Error().Str("bill_id", b.ID.String()).Str("paid_amount", b.PaidAmount.StringFixed(2)).
			Str("payments_total", sum.StringFixed(2)).Msg("bill paid amount does not match payments")
	}
	return b, nil
}

// paidTotal sums successful payments. It must always equal PaidAmount.
func paidTotal(payments []*Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentSuccess {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}
