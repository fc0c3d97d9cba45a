//go:build integration

package integration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/prescription"
	"github.com/clinicdesk/clinic/internal/domain/queue"
)

func TestRegistration_CommitsEverything(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	doctorID := createDoctor(t, 500, 100)
	p := createPatient(t, s)

	reg, err := s.appointments.Create(ctx, appointment.CreateInput{PatientID: p.ID, DoctorID: doctorID}, "reception-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reg.Appointment.SerialNumber != 1 || reg.Appointment.QueuePosition != 1 {
		t.Errorf("expected serial 1 position 1, got %d/%d", reg.Appointment.SerialNumber, reg.Appointment.QueuePosition)
	}

	bill, err := s.billing.GetByAppointment(ctx, reg.Appointment.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if !bill.TotalAmount.Equal(decimal.NewFromInt(600)) || bill.Status != billing.StatusPending || len(bill.Items) != 2 {
		t.Errorf("unexpected bill: total=%s status=%s items=%d", bill.TotalAmount, bill.Status, len(bill.Items))
	}

	timeline, err := s.events.Timeline(ctx, reg.Appointment.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []events.EventType{events.Registered, events.QueueJoined, events.Billed}
	if len(timeline) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(timeline))
	}
	for i, ev := range timeline {
		if ev.Type != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
	}

	select {
	case got := <-s.notified.doctors:
		if got != doctorID {
			t.Errorf("notified wrong doctor")
		}
	default:
		t.Error("expected a queue notification after commit")
	}
}

func TestRegistration_ConcurrentSerials(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	doctorID := createDoctor(t, 300, 0)

	const n = 25
	patients := make([]*patient.Patient, n)
	for i := range patients {
		patients[i] = createPatient(t, s)
	}

	var mu sync.Mutex
	var serials, positions []int
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range patients {
		p := p
		g.Go(func() error {
			reg, err := s.appointments.Create(gctx, appointment.CreateInput{PatientID: p.ID, DoctorID: doctorID}, "r")
			if err != nil {
				return err
			}
			mu.Lock()
			serials = append(serials, reg.Appointment.SerialNumber)
			positions = append(positions, reg.Appointment.QueuePosition)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create: %v", err)
	}

	sort.Ints(serials)
	sort.Ints(positions)
	for i := 0; i < n; i++ {
		if serials[i] != i+1 || positions[i] != i+1 {
			t.Fatalf("expected 1..%d, got serials %v positions %v", n, serials, positions)
		}
	}
}

func TestQueue_CancelCompactsAndCallNext(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	doctorID := createDoctor(t, 400, 0)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		reg, err := s.appointments.Create(ctx, appointment.CreateInput{PatientID: createPatient(t, s).ID, DoctorID: doctorID}, "r")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, reg.Appointment.ID)
	}

	if _, err := s.appointments.UpdateStatus(ctx, ids[1], appointment.StatusCancelled, "r"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	entries, err := queue.NewRepoPG(pool).Active(ctx, doctorID, s.appointments.Today())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].AppointmentID != ids[0] || entries[1].AppointmentID != ids[2] || entries[1].QueuePosition != 2 {
		t.Fatalf("unexpected queue after cancel: %+v", entries)
	}
	if entries[0].PatientCode == "" {
		t.Error("snapshot should carry the patient code")
	}

	called, err := s.appointments.CallNext(ctx, doctorID, "dr")
	if err != nil || called.ID != ids[0] {
		t.Fatalf("expected first patient called, got %v %v", called, err)
	}
	if _, err := s.appointments.UpdateStatus(ctx, ids[0], appointment.StatusWaiting, "dr"); !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}

	if _, err := s.prescriptions.Create(ctx, ids[0], prescription.CreateInput{
		Items: []prescription.Item{{MedicineName: "Paracetamol", Instruction: "1+0+1", Duration: "3 days"}},
	}, "dr"); err != nil {
		t.Fatalf("prescription: %v", err)
	}
	if _, err := s.prescriptions.Create(ctx, ids[0], prescription.CreateInput{
		Items: []prescription.Item{{MedicineName: "ORS"}},
	}, "dr"); !errors.Is(err, prescription.ErrPrescriptionExists) {
		t.Errorf("expected second prescription rejected, got %v", err)
	}

	if _, err := s.appointments.UpdateStatus(ctx, ids[0], appointment.StatusCompleted, "dr"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.appointments.CallNext(ctx, doctorID, "dr"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.appointments.CallNext(ctx, doctorID, "dr"); !errors.Is(err, appointment.ErrNoPatientsWaiting) {
		t.Errorf("expected no patients waiting, got %v", err)
	}

	minutes, ok, err := s.events.DurationBetween(ctx, ids[0], events.ConsultationStarted, events.Completed)
	if err != nil || !ok || minutes < 0 {
		t.Errorf("expected a consultation duration, got %d %v %v", minutes, ok, err)
	}
}

func TestPayments_ConcurrentSettlement(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	doctorID := createDoctor(t, 500, 100)
	reg, err := s.appointments.Create(ctx, appointment.CreateInput{PatientID: createPatient(t, s).ID, DoctorID: doctorID}, "r")
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 5
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.billing.RecordPayment(ctx, billing.PaymentRequest{
				BillID: reg.Bill.ID, Amount: decimal.NewFromInt(600), Method: billing.MethodCash,
			}, "cashier-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, billing.ErrBillAlreadyPaid), errors.Is(err, billing.ErrExceedsDue):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one payment to settle the bill, got %d", succeeded)
	}

	bill, err := s.billing.GetBill(ctx, reg.Bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bill.Status != billing.StatusPaid || !bill.DueAmount.IsZero() || len(bill.Payments) != 1 {
		t.Errorf("unexpected bill after settlement: status=%s due=%s payments=%d", bill.Status, bill.DueAmount, len(bill.Payments))
	}
}

func TestEvents_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	reg, err := s.appointments.Create(ctx, appointment.CreateInput{PatientID: createPatient(t, s).ID, DoctorID: createDoctor(t, 100, 0)}, "r")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `UPDATE appointment_events SET description = 'x' WHERE appointment_id = $1`, reg.Appointment.ID); err == nil {
		t.Error("expected update of appointment_events to fail")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM appointment_events WHERE appointment_id = $1`, reg.Appointment.ID); err == nil {
		t.Error("expected delete of appointment_events to fail")
	}
}
