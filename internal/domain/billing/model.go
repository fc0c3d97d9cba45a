package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

var (
	ErrBillNotFound          = apperr.NotFound("bill not found")
	ErrBillExists            = apperr.Conflict("appointment already has a bill")
	ErrBillAlreadyPaid       = apperr.Unprocessable("bill is already paid")
	ErrExceedsDue            = apperr.Unprocessable("payment exceeds due amount")
	ErrBillNotPayable        = apperr.Unprocessable("bill is cancelled or refunded")
	ErrInvalidAmount         = apperr.Validation("amount must be greater than zero")
	ErrAmountPrecision       = apperr.Validation("amounts may have at most 2 decimal places")
	ErrInvalidMethod         = apperr.Validation("unsupported payment method")
	ErrInvalidItem           = apperr.Validation("invalid bill item")
	ErrInvalidStatusOverride = apperr.Unprocessable("status override not allowed")
)

type BillStatus string

const (
	StatusPending   BillStatus = "PENDING"
	StatusPartial   BillStatus = "PARTIAL"
	StatusPaid      BillStatus = "PAID"
	StatusRefunded  BillStatus = "REFUNDED"
	StatusCancelled BillStatus = "CANCELLED"
)

// Closed reports whether the bill no longer accepts payments or items.
func (s BillStatus) Closed() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type PaymentMethod string

const (
	MethodCash          PaymentMethod = "CASH"
	MethodCard          PaymentMethod = "CARD"
	MethodMobileBanking PaymentMethod = "MOBILE_BANKING"
	MethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	MethodInsurance     PaymentMethod = "INSURANCE"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCard: true, MethodMobileBanking: true, MethodBankTransfer: true, MethodInsurance: true,
}

func (m PaymentMethod) Valid() bool { return validMethods[m] }

type PaymentStatus string

const PaymentSuccess PaymentStatus = "SUCCESS"

// Item categories.
const (
	CategoryConsultation = "CONSULTATION"
	CategoryHospital     = "HOSPITAL"
	CategoryService      = "SERVICE"
)

type Bill struct {
	ID            uuid.UUID       `json:"id"`
	BillNumber    string          `json:"bill_number"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DueAmount     decimal.Decimal `json:"due_amount"`
	Discount      decimal.Decimal `json:"discount"`
	Status        BillStatus      `json:"status"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []*BillItem     `json:"items,omitempty"`
	Payments      []*Payment      `json:"payments,omitempty"`
}

type BillItem struct {
	ID          uuid.UUID       `json:"id"`
	BillID      uuid.UUID       `json:"bill_id"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Payment struct {
	ID          uuid.UUID       `json:"id"`
	BillID      uuid.UUID       `json:"bill_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"method"`
	Status      PaymentStatus   `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	PerformedBy string          `json:"performed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FeeSchedule is the doctor's fees at the time of registration.
type FeeSchedule struct {
	Consultation decimal.Decimal
	Hospital     decimal.Decimal
}

// checkCents rejects amounts that NUMERIC(12,2) could only store rounded.
func checkCents(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(2)) {
		return ErrAmountPrecision
	}
	return nil
}

// NewItem builds a line item with total = quantity * unitPrice - discount.
func NewItem(description, category string, quantity int, unitPrice, discount decimal.Decimal) (*BillItem, error) {
	if description == "" || quantity < 1 || unitPrice.IsNegative() || discount.IsNegative() {
		return nil, ErrInvalidItem
	}
	if err := checkCents(unitPrice); err != nil {
		return nil, err
	}
	if err := checkCents(discount); err != nil {
		return nil, err
	}
	total := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Sub(discount)
	if total.IsNegative() {
		return nil, apperr.Wrap(ErrInvalidItem, errDiscountTooLarge)
	}
	return &BillItem{
		Description: description,
		Category:    category,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Discount:    discount,
		Total:       total,
	}, nil
}

var errDiscountTooLarge = apperr.Validation("discount exceeds item price")

// StatusFor derives the payment status from the amounts.
func StatusFor(total, due decimal.Decimal) BillStatus {
	switch {
	case due.IsZero():
		return StatusPaid
	case due.LessThan(total):
		return StatusPartial
	default:
		return StatusPending
	}
}

// Balanced reports whether paid + due == total.
func (b *Bill) Balanced() bool {
	return b.PaidAmount.Add(b.DueAmount).Equal(b.TotalAmount)
}

// checkPayable validates a payment of amount against the current state.
// It does not modify the bill.
func (b *Bill) checkPayable(amount decimal.Decimal) error {
	switch {
	case b.Status == StatusPaid:
		return ErrBillAlreadyPaid
	case b.Status.Closed():
		return ErrBillNotPayable
	case amount.GreaterThan(b.DueAmount):
		return ErrExceedsDue
	}
	return nil
}

func (b *Bill) applyPayment(amount decimal.Decimal) {
	b.PaidAmount = b.PaidAmount.Add(amount)
	b.DueAmount = b.DueAmount.Sub(amount)
	b.Status = StatusFor(b.TotalAmount, b.DueAmount)
}

func (b *Bill) applyItem(item *BillItem) {
	b.TotalAmount = b.TotalAmount.Add(item.Total)
	b.DueAmount = b.DueAmount.Add(item.Total)
	b.Status = StatusFor(b.TotalAmount, b.DueAmount)
}
