package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/doctor"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// Sequencer allocates serials and positions under the doctor-day lock.
// sequence.Allocator satisfies it.
type Sequencer interface {
	Day(t time.Time) time.Time
	Assign(ctx context.Context, doctorID uuid.UUID, day time.Time) (sequence.Assignment, error)
	LockQueue(ctx context.Context, doctorID uuid.UUID, day time.Time) error
}

type DoctorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
}

type PatientRegistry interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	Register(ctx context.Context, in patient.RegisterInput, staffID string) (*patient.Patient, error)
}

type BillGenerator interface {
	CreateForAppointment(ctx context.Context, appointmentID, patientID uuid.UUID, fees billing.FeeSchedule, staffID string) (*billing.Bill, error)
}

type EventAppender interface {
	AppendBatch(ctx context.Context, entries ...events.Entry) ([]*events.Event, error)
}

// Notifier is told which doctor's queue changed once a write has
// committed. It must not block.
type Notifier interface {
	Notify(doctorID uuid.UUID)
}

type Service struct {
	repo     Repository
	seq      Sequencer
	doctors  DoctorLookup
	patients PatientRegistry
	bills    BillGenerator
	events   EventAppender
	tx       db.TxManager
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger
}

type Deps struct {
	Repo     Repository
	Seq      Sequencer
	Doctors  DoctorLookup
	Patients PatientRegistry
	Bills    BillGenerator
	Events   EventAppender
	Tx       db.TxManager
	Notifier Notifier
	Logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		repo:     d.Repo,
		seq:      d.Seq,
		doctors:  d.Doctors,
		patients: d.Patients,
		bills:    d.Bills,
		events:   d.Events,
		tx:       d.Tx,
		notifier: d.Notifier,
		now:      time.Now,
		logger:   d.Logger,
	}
}

// SetNotifier attaches the queue broadcaster after construction.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) notify(doctorID uuid.UUID) {
	if s.notifier != nil {
		s.notifier.Notify(doctorID)
	}
}

func normalizeType(t Type) (Type, error) {
	t = Type(strings.ToUpper(strings.TrimSpace(string(t))))
	if t == "" {
		return TypeNew, nil
	}
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

func (s *Service) availableDoctor(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsAvailable {
		return nil, ErrDoctorUnavailable
	}
	return d, nil
}

// Create registers an existing patient with a doctor: serial and position,
// appointment row, bill and the registration events commit together.
func (s *Service) Create(ctx context.Context, in CreateInput, staffID string) (*Registration, error) {
	typ, err := normalizeType(in.Type)
	if err != nil {
		return nil, err
	}

	var reg *Registration
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.Get(ctx, in.PatientID)
		if err != nil {
			return err
		}
		reg, err = s.register(ctx, p, in.DoctorID, typ, in.ChiefComplaint, staffID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(in.DoctorID)
	return reg, nil
}

// CreateWithNewPatient registers the patient and the appointment in one
// unit of work. A duplicate phone rolls back everything.
func (s *Service) CreateWithNewPatient(ctx context.Context, in CreateWithPatientInput, staffID string) (*Registration, error) {
	typ, err := normalizeType(in.Type)
	if err != nil {
		return nil, err
	}
	if err := in.Patient.Validate(); err != nil {
		return nil, err
	}

	var reg *Registration
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Check the doctor before a PID is spent.
		if _, err := s.availableDoctor(ctx, in.DoctorID); err != nil {
			return err
		}
		p, err := s.patients.Register(ctx, in.Patient, staffID)
		if err != nil {
			return err
		}
		reg, err = s.register(ctx, p, in.DoctorID, typ, in.ChiefComplaint, staffID, events.Entry{
			Type:        events.PatientCreated,
			PerformedBy: staffID,
			Metadata:    map[string]any{"patient_id": p.ID, "patient_code": p.PatientCode},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(in.DoctorID)
	return reg, nil
}

// register runs inside the caller's transaction. Extra entries are logged
// ahead of the standard registration events.
func (s *Service) register(ctx context.Context, p *patient.Patient, doctorID uuid.UUID, typ Type, complaint, staffID string, extra ...events.Entry) (*Registration, error) {
	d, err := s.availableDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	day := s.seq.Day(s.now())
	slot, err := s.seq.Assign(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:        p.ID,
		DoctorID:         doctorID,
		Type:             typ,
		Status:           StatusWaiting,
		SerialNumber:     slot.SerialNumber,
		QueuePosition:    slot.QueuePosition,
		AppointmentDate:  day,
		AppointmentMonth: sequence.Month(day),
		ChiefComplaint:   optionalString(strings.TrimSpace(complaint)),
		CreatedBy:        staffID,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	fees := d.Fees()
	bill, err := s.bills.CreateForAppointment(ctx, a.ID, p.ID, billing.FeeSchedule{
		Consultation: fees.Consultation,
		Hospital:     fees.Hospital,
	}, staffID)
	if err != nil {
		return nil, err
	}

	entries := make([]events.Entry, 0, len(extra)+3)
	for _, e := range extra {
		e.AppointmentID = a.ID
		entries = append(entries, e)
	}
	entries = append(entries,
		events.Entry{
			AppointmentID: a.ID,
			Type:          events.Registered,
			PerformedBy:   staffID,
			Metadata: map[string]any{
				"patient_id":       p.ID,
				"patient_code":     p.PatientCode,
				"doctor_id":        doctorID,
				"appointment_type": typ,
			},
		},
		events.Entry{
			AppointmentID: a.ID,
			Type:          events.QueueJoined,
			PerformedBy:   staffID,
			Metadata:      map[string]any{"serial_number": a.SerialNumber, "queue_position": a.QueuePosition},
		},
		billing.BilledEntry(bill, staffID),
	)
	if _, err := s.events.AppendBatch(ctx, entries...); err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", doctorID.String()).
		Int("serial", a.SerialNumber).Int("position", a.QueuePosition).Str("staff_id", staffID).
		Msg("appointment registered")
	return &Registration{Appointment: a, Bill: bill, Patient: p}, nil
}

// UpdateStatus moves an appointment along its lifecycle. Leaving the
// active set compacts the doctor's queue in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, staffID string) (*Appointment, error) {
	to = Status(strings.ToUpper(strings.TrimSpace(string(to))))
	if !to.Valid() {
		return nil, ErrInvalidStatus
	}

	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Read without a lock to learn the doctor-day, then lock in the
		// global order: counter row first, appointment rows second.
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.seq.LockQueue(ctx, current.DoctorID, current.AppointmentDate); err != nil {
			return err
		}
		a, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.transition(ctx, a, to, staffID)
	})
	if err != nil {
		return nil, err
	}
	s.notify(a.DoctorID)
	return a, nil
}

// CallNext starts the consultation of the lowest-positioned waiting
// patient for the doctor today.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID, staffID string) (*Appointment, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}

	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		day := s.seq.Day(s.now())
		if err := s.seq.LockQueue(ctx, doctorID, day); err != nil {
			return err
		}
		var err error
		a, err = s.repo.FirstWaitingForUpdate(ctx, doctorID, day)
		if err != nil {
			return err
		}
		return s.transition(ctx, a, StatusInConsultation, staffID, events.Entry{
			AppointmentID: a.ID,
			Type:          events.QueueCalled,
			PerformedBy:   staffID,
			Metadata:      map[string]any{"serial_number": a.SerialNumber, "queue_position": a.QueuePosition},
		})
	})
	if err != nil {
		return nil, err
	}
	s.notify(doctorID)
	return a, nil
}

var transitionEvents = map[Status]events.EventType{
	StatusInConsultation: events.ConsultationStarted,
	StatusCompleted:      events.Completed,
	StatusCancelled:      events.Cancelled,
}

// transition applies a legal status change to a locked appointment. The
// doctor-day lock must already be held.
func (s *Service) transition(ctx context.Context, a *Appointment, to Status, staffID string, before ...events.Entry) error {
	from := a.Status
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}

	now := s.now().UTC()
	switch to {
	case StatusInConsultation:
		a.EntryTime = &now
	case StatusCompleted:
		a.ExitTime = &now
	}
	a.Status = to
	if err := s.repo.UpdateStatus(ctx, a); err != nil {
		return err
	}

	entries := append([]events.Entry{}, before...)
	entries = append(entries, events.Entry{
		AppointmentID: a.ID,
		Type:          transitionEvents[to],
		PerformedBy:   staffID,
		Metadata:      map[string]any{"from": from, "to": to},
	})

	if to.Terminal() {
		moved, err := s.compact(ctx, a.DoctorID, a.AppointmentDate, staffID)
		if err != nil {
			return err
		}
		entries = append(entries, moved...)
	}

	_, err := s.events.AppendBatch(ctx, entries...)
	return err
}

// compact closes the gap left in the doctor's queue and returns one
// QUEUE_POSITION_CHANGED entry per moved appointment.
func (s *Service) compact(ctx context.Context, doctorID uuid.UUID, day time.Time, staffID string) ([]events.Entry, error) {
	active, err := s.repo.ListActiveForUpdate(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	moves := Compact(active)
	if len(moves) == 0 {
		return nil, nil
	}
	if err := s.repo.UpdatePositions(ctx, moves); err != nil {
		return nil, err
	}

	entries := make([]events.Entry, 0, len(moves))
	for _, m := range moves {
		entries = append(entries, events.Entry{
			AppointmentID: m.AppointmentID,
			Type:          events.QueuePositionChanged,
			PerformedBy:   staffID,
			Metadata:      map[string]any{"from": m.From, "to": m.To},
		})
	}
	return entries, nil
}

// UpdateDetails edits chief complaint and diagnosis. Sequence numbers,
// status and billing are untouched.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, upd DetailsUpdate, staffID string) (*Appointment, error) {
	var a *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return ErrAppointmentClosed
		}

		changed := map[string]any{}
		if upd.ChiefComplaint != nil {
			a.ChiefComplaint = optionalString(strings.TrimSpace(*upd.ChiefComplaint))
			changed["chief_complaint"] = a.ChiefComplaint
		}
		if upd.Diagnosis != nil {
			a.Diagnosis = optionalString(strings.TrimSpace(*upd.Diagnosis))
			changed["diagnosis"] = a.Diagnosis
		}
		if len(changed) == 0 {
			return nil
		}
		if err := s.repo.UpdateDetails(ctx, a); err != nil {
			return err
		}
		_, err = s.events.AppendBatch(ctx, events.Entry{
			AppointmentID: a.ID,
			Type:          events.DetailsUpdated,
			PerformedBy:   staffID,
			Metadata:      changed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Day != nil {
		day := sequence.Day(*f.Day, time.UTC)
		f.Day = &day
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Today is the clinic day used for queue lookups.
func (s *Service) Today() time.Time {
	return s.seq.Day(s.now())
}
