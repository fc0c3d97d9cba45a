// Package sandbox fills a development database with a reproducible demo
// roster: doctors with fee schedules and walk-in patients, so the front desk
// has someone to queue on a fresh install.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// SeedConfig controls how much demo data is generated.
type SeedConfig struct {
	DoctorCount  int
	PatientCount int
	Seed         int64
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{DoctorCount: 6, PatientCount: 20}
}

var (
	firstNames = []string{
		"Amina", "Rahim", "Farhana", "Tanvir", "Nusrat", "Karim", "Sadia",
		"Imran", "Laila", "Hasan", "Ruma", "Jamal", "Priya", "Arjun",
	}
	lastNames = []string{
		"Hossain", "Rahman", "Akter", "Chowdhury", "Islam", "Khan",
		"Sarkar", "Das", "Mahmud", "Begum", "Ahmed", "Roy",
	}
	specialties = []struct{ department, specialization string }{
		{"Medicine", "Internal Medicine"},
		{"Medicine", "Cardiology"},
		{"Paediatrics", "General Paediatrics"},
		{"Surgery", "General Surgery"},
		{"Gynaecology", "Obstetrics & Gynaecology"},
		{"ENT", "Otolaryngology"},
		{"Orthopaedics", "Orthopaedic Surgery"},
		{"Dermatology", "Dermatology"},
	}
	genders = []string{"MALE", "FEMALE"}
)

// DoctorSeed is one generated doctor row.
type DoctorSeed struct {
	Name            string
	Department      string
	Specialization  string
	ConsultationFee decimal.Decimal
	HospitalFee     decimal.Decimal
}

// DataGenerator produces deterministic demo records for a given seed.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) fullName() string {
	return g.pick(firstNames) + " " + g.pick(lastNames)
}

// Doctor generates a doctor with fees in steps of 50. Every third doctor
// charges no hospital fee.
func (g *DataGenerator) Doctor() DoctorSeed {
	g.counter++
	sp := specialties[g.rng.Intn(len(specialties))]
	hospital := decimal.NewFromInt(int64(50 * (1 + g.rng.Intn(4))))
	if g.counter%3 == 0 {
		hospital = decimal.Zero
	}
	return DoctorSeed{
		Name:            "Dr. " + g.fullName(),
		Department:      sp.department,
		Specialization:  sp.specialization,
		ConsultationFee: decimal.NewFromInt(int64(50 * (6 + g.rng.Intn(15)))),
		HospitalFee:     hospital,
	}
}

// Patient generates registration input. The phone carries the running
// counter so a single run never collides with itself.
func (g *DataGenerator) Patient() patient.RegisterInput {
	g.counter++
	dob := time.Date(1950+g.rng.Intn(70), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	return patient.RegisterInput{
		Name:        g.fullName(),
		Phone:       fmt.Sprintf("+8801%03d%06d", 700+g.rng.Intn(300), g.counter),
		Gender:      g.pick(genders),
		DateOfBirth: &dob,
		Address:     fmt.Sprintf("House %d, Road %d", 1+g.rng.Intn(120), 1+g.rng.Intn(30)),
	}
}

// DoctorStore inserts doctor rows. The directory itself is read-only at
// runtime, so this is the only writer.
type DoctorStore interface {
	InsertDoctor(ctx context.Context, d DoctorSeed) (uuid.UUID, error)
}

// PatientRegistrar is satisfied by *patient.Service.
type PatientRegistrar interface {
	Register(ctx context.Context, in patient.RegisterInput, staffID string) (*patient.Patient, error)
}

// SeedResult summarises what a run wrote.
type SeedResult struct {
	Doctors         int
	Patients        int
	SkippedPatients int
	Duration        time.Duration
}

// Seeder writes generated records through the regular services, so demo
// patients receive real PIDs.
type Seeder struct {
	doctors  DoctorStore
	patients PatientRegistrar
	logger   zerolog.Logger
}

func NewSeeder(doctors DoctorStore, patients PatientRegistrar, logger zerolog.Logger) *Seeder {
	return &Seeder{doctors: doctors, patients: patients, logger: logger}
}

const seedStaffID = "sandbox-seed"

// Run generates and stores cfg.DoctorCount doctors and cfg.PatientCount
// patients. Patients whose phone is already registered are skipped, which
// makes re-running with the same seed harmless.
func (s *Seeder) Run(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	start := time.Now()
	gen := NewDataGenerator(cfg.Seed)
	result := &SeedResult{}

	for i := 0; i < cfg.DoctorCount; i++ {
		d := gen.Doctor()
		id, err := s.doctors.InsertDoctor(ctx, d)
		if err != nil {
			return result, fmt.Errorf("inserting doctor %q: %w", d.Name, err)
		}
		s.logger.Debug().Str("doctor_id", id.String()).Str("name", d.Name).Msg("seeded doctor")
		result.Doctors++
	}

	for i := 0; i < cfg.PatientCount; i++ {
		in := gen.Patient()
		p, err := s.patients.Register(ctx, in, seedStaffID)
		if errors.Is(err, patient.ErrPhoneTaken) {
			result.SkippedPatients++
			continue
		}
		if err != nil {
			return result, fmt.Errorf("registering patient %q: %w", in.Name, err)
		}
		s.logger.Debug().Str("patient_code", p.PatientCode).Msg("seeded patient")
		result.Patients++
	}

	result.Duration = time.Since(start)
	s.logger.Info().Int("doctors", result.Doctors).Int("patients", result.Patients).
		Int("skipped", result.SkippedPatients).Dur("took", result.Duration).Msg("sandbox seed complete")
	return result, nil
}

type pgDoctorStore struct {
	pool *pgxpool.Pool
}

func NewPGDoctorStore(pool *pgxpool.Pool) DoctorStore { return &pgDoctorStore{pool: pool} }

func (s *pgDoctorStore) InsertDoctor(ctx context.Context, d DoctorSeed) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO doctors (name, department, specialization, consultation_fee, hospital_fee)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		d.Name, d.Department, d.Specialization, d.ConsultationFee, d.HospitalFee,
	).Scan(&id)
	return id, err
}
