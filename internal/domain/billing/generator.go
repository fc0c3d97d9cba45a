package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/events"
)

// NumberAllocator issues bill numbers. sequence.Allocator satisfies it.
type NumberAllocator interface {
	NextBillNumber(ctx context.Context, t time.Time) (string, error)
}

// Generator creates the bill for a new appointment. It has no transaction
// of its own: the caller runs it inside the unit of work that inserts the
// appointment, so neither can exist without the other.
type Generator struct {
	repo    Repository
	numbers NumberAllocator
	now     func() time.Time
}

func NewGenerator(repo Repository, numbers NumberAllocator) *Generator {
	return &Generator{repo: repo, numbers: numbers, now: time.Now}
}

// CreateForAppointment writes a PENDING bill totalling consultation plus
// hospital fee. The hospital fee gets its own line when it is non-zero.
func (g *Generator) CreateForAppointment(ctx context.Context, appointmentID, patientID uuid.UUID, fees FeeSchedule, staffID string) (*Bill, error) {
	consultation := nonNegative(fees.Consultation)
	hospital := nonNegative(fees.Hospital)

	items := make([]*BillItem, 0, 2)
	item, err := NewItem("Consultation fee", CategoryConsultation, 1, consultation, decimal.Zero)
	if err != nil {
		return nil, err
	}
	items = append(items, item)
	if !hospital.IsZero() {
		item, err := NewItem("Hospital fee", CategoryHospital, 1, hospital, decimal.Zero)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total)
	}

	number, err := g.numbers.NextBillNumber(ctx, g.now())
	if err != nil {
		return nil, err
	}
	b := &Bill{
		BillNumber:    number,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		TotalAmount:   total,
		PaidAmount:    decimal.Zero,
		DueAmount:     total,
		Discount:      decimal.Zero,
		Status:        StatusPending,
		CreatedBy:     staffID,
		Items:         items,
	}
	if err := g.repo.CreateBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// BilledEntry is the BILLED event for a freshly generated bill.
func BilledEntry(b *Bill, staffID string) events.Entry {
	return events.Entry{
		AppointmentID: b.AppointmentID,
		Type:          events.Billed,
		PerformedBy:   staffID,
		Description:   "Bill " + b.BillNumber + " generated for " + b.TotalAmount.StringFixed(2),
		Metadata: map[string]any{
			"bill_id":      b.ID,
			"bill_number":  b.BillNumber,
			"total_amount": b.TotalAmount.StringFixed(2),
			"items":        len(b.Items),
		},
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
