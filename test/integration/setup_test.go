//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/doctor"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/prescription"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/migrations"
)

var pool *pgxpool.Pool

// TestMain uses CLINIC_TEST_DATABASE_URL when set and otherwise starts a
// Postgres container. Migrations run once; tests isolate themselves by
// creating their own doctors and patients.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("CLINIC_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	var err error
	pool, err = db.NewPool(ctx, connStr, 30, 2)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrations.Files, zerolog.Nop()).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

type notifications struct{ doctors chan uuid.UUID }

func (n *notifications) Notify(id uuid.UUID) {
	select {
	case n.doctors <- id:
	default:
	}
}

// stack is every service wired against the shared pool, the same way the
// server does it.
type stack struct {
	appointments  *appointment.Service
	patients      *patient.Service
	billing       *billing.Service
	events        *events.Log
	prescriptions *prescription.Service
	notified      *notifications
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	tx := db.NewTxManager(pool, db.DefaultRetryPolicy(), logger)

	alloc := sequence.NewAllocator(sequence.NewRepoPG(pool), time.UTC)
	eventLog := events.NewLog(events.NewRepoPG(pool))
	apptRepo := appointment.NewRepoPG(pool)
	billRepo := billing.NewRepoPG(pool)
	patients := patient.NewService(patient.NewRepoPG(pool), alloc, tx, logger)
	n := &notifications{doctors: make(chan uuid.UUID, 256)}

	return &stack{
		appointments: appointment.NewService(appointment.Deps{
			Repo:     apptRepo,
			Seq:      alloc,
			Doctors:  doctor.NewRepoPG(pool),
			Patients: patients,
			Bills:    billing.NewGenerator(billRepo, alloc),
			Events:   eventLog,
			Tx:       tx,
			Notifier: n,
			Logger:   logger,
		}),
		patients:      patients,
		billing:       billing.NewService(billRepo, eventLog, tx, logger),
		events:        eventLog,
		prescriptions: prescription.NewService(prescription.NewRepoPG(pool), apptRepo, eventLog, tx, logger),
		notified:      n,
	}
}

func createDoctor(t *testing.T, consultation, hospital int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(), `
		INSERT INTO doctors (name, department, consultation_fee, hospital_fee)
		VALUES ($1, 'Medicine', $2, $3) RETURNING id`,
		"Dr. "+uuid.NewString()[:8], decimal.NewFromInt(consultation), decimal.NewFromInt(hospital),
	).Scan(&id)
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return id
}

func randomPhone() string {
	return fmt.Sprintf("017%08d", uuid.New().ID()%100000000)
}

func createPatient(t *testing.T, s *stack) *patient.Patient {
	t.Helper()
	p, err := s.patients.Register(context.Background(), patient.RegisterInput{Name: "Test Patient", Phone: randomPhone()}, "reception-1")
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return p
}
