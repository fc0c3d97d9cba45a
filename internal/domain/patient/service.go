package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// CodeAllocator issues PID codes. sequence.Allocator satisfies it.
type CodeAllocator interface {
	NextPatientCode(ctx context.Context, t time.Time) (string, error)
}

type Service struct {
	repo   Repository
	codes  CodeAllocator
	tx     db.TxManager
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, codes CodeAllocator, tx db.TxManager, logger zerolog.Logger) *Service {
	return &Service{repo: repo, codes: codes, tx: tx, now: time.Now, logger: logger}
}

// Register creates a patient with a fresh PID. When ctx already carries a
// transaction the registration joins it, so an appointment created in the
// same unit of work rolls the patient back with it.
func (s *Service) Register(ctx context.Context, in RegisterInput, staffID string) (*Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var p *Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByPhone(ctx, in.Phone)
		if err == nil && existing != nil {
			return ErrPhoneTaken
		}
		if err != nil && !errors.Is(err, ErrPatientNotFound) {
			return err
		}

		code, err := s.codes.NextPatientCode(ctx, s.now())
		if err != nil {
			return err
		}
		p = &Patient{
			PatientCode: code,
			Name:        in.Name,
			Phone:       in.Phone,
			Gender:      in.Gender,
			DateOfBirth: in.DateOfBirth,
			Address:     strings.TrimSpace(in.Address),
			Notes:       strings.TrimSpace(in.Notes),
			CreatedBy:   staffID,
		}
		return s.repo.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", p.ID.String()).Str("patient_code", p.PatientCode).
		Str("staff_id", staffID).Msg("patient registered")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile edits contact details. The PID never changes.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Patient, error) {
	var p *Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return apperr.Validation("name cannot be empty")
			}
			p.Name = name
		}
		if upd.Phone != nil {
			phone := NormalizePhone(*upd.Phone)
			if err := validatePhone(phone); err != nil {
				return err
			}
			if phone != p.Phone {
				other, err := s.repo.GetByPhone(ctx, phone)
				if err == nil && other != nil && other.ID != p.ID {
					return ErrPhoneTaken
				}
				if err != nil && !errors.Is(err, ErrPatientNotFound) {
					return err
				}
			}
			p.Phone = phone
		}
		if upd.Address != nil {
			p.Address = strings.TrimSpace(*upd.Address)
		}
		if upd.Notes != nil {
			p.Notes = strings.TrimSpace(*upd.Notes)
		}
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
