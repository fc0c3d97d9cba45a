package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/sandbox"
)

// seedCmd loads a demo roster into a development database.
func seedCmd() *cobra.Command {
	def := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo doctors and patients (development only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetInt64("seed")
			if doctors < 0 || patients < 0 {
				return fmt.Errorf("--doctors and --patients must not be negative")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return fmt.Errorf("refusing to seed a %s environment", cfg.Env)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			tx := db.NewTxManager(pool, db.RetryPolicy{
				MaxAttempts: cfg.TxMaxAttempts,
				BaseDelay:   cfg.TxRetryBaseDelay,
				MaxDelay:    time.Second,
			}, logger)
			patientSvc := patient.NewService(patient.NewRepoPG(pool), sequence.NewAllocator(sequence.NewRepoPG(pool), loc), tx, logger)
			seeder := sandbox.NewSeeder(sandbox.NewPGDoctorStore(pool), patientSvc, logger)

			res, err := seeder.Run(ctx, sandbox.SeedConfig{DoctorCount: doctors, PatientCount: patients, Seed: seed})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d doctor(s) and %d patient(s); %d patient(s) already present.\n",
				res.Doctors, res.Patients, res.SkippedPatients)
			return nil
		},
	}
	cmd.Flags().Int("doctors", def.DoctorCount, "Number of doctors to insert")
	cmd.Flags().Int("patients", def.PatientCount, "Number of patients to register")
	cmd.Flags().Int64("seed", 1, "Random seed; the same seed reproduces the same roster")
	return cmd
}
