package prescription

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// AppointmentLocker reads an appointment with its row locked.
// appointment.Repository satisfies it.
type AppointmentLocker interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type EventAppender interface {
	Append(ctx context.Context, e events.Entry) (*events.Event, error)
}

type Service struct {
	repo         Repository
	appointments AppointmentLocker
	events       EventAppender
	tx           db.TxManager
	logger       zerolog.Logger
}

func NewService(repo Repository, appts AppointmentLocker, ev EventAppender, tx db.TxManager, logger zerolog.Logger) *Service {
	return &Service{repo: repo, appointments: appts, events: ev, tx: tx, logger: logger}
}

// Create writes the appointment's prescription. The appointment is locked
// so a concurrent completion cannot slip in between the status check and
// the insert.
func (s *Service) Create(ctx context.Context, appointmentID uuid.UUID, in CreateInput, staffID string) (*Prescription, error) {
	if err := in.Normalize(); err != nil {
		return nil, err
	}

	p := &Prescription{AppointmentID: appointmentID, Notes: in.Notes, Items: in.Items, CreatedBy: staffID}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != appointment.StatusInConsultation {
			return ErrNotInConsultation
		}
		if _, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
			return ErrPrescriptionExists
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		_, err = s.events.Append(ctx, events.Entry{
			AppointmentID: appointmentID,
			Type:          events.PrescriptionCreated,
			PerformedBy:   staffID,
			Metadata:      map[string]any{"prescription_id": p.ID, "items": len(p.Items)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", appointmentID.String()).Int("items", len(p.Items)).
		Str("staff_id", staffID).Msg("prescription written")
	return p, nil
}

func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}
