package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/doctor"
	"github.com/clinicdesk/clinic/internal/domain/events"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
)

// world is an in-memory clinic. WithinTx serialises units of work the way
// the doctor-day row lock does and restores a snapshot when fn fails.
type world struct {
	txmu sync.Mutex
	mu   sync.Mutex

	appts    map[uuid.UUID]Appointment
	serials  map[string]int
	yearly   map[string]int
	patients map[uuid.UUID]patient.Patient
	doctors  map[uuid.UUID]*doctor.Doctor
	bills    map[uuid.UUID]billing.Bill
	entries  []events.Entry

	notified    []uuid.UUID
	failBilling bool
}

type worldTxKey struct{}

func newWorldState() *world {
	return &world{
		appts:    make(map[uuid.UUID]Appointment),
		serials:  make(map[string]int),
		yearly:   make(map[string]int),
		patients: make(map[uuid.UUID]patient.Patient),
		doctors:  make(map[uuid.UUID]*doctor.Doctor),
		bills:    make(map[uuid.UUID]billing.Bill),
	}
}

type snapshot struct {
	appts   map[uuid.UUID]Appointment
	serials map[string]int
	yearly  map[string]int
	pats    map[uuid.UUID]patient.Patient
	bills   map[uuid.UUID]billing.Bill
	entries int
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (w *world) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(worldTxKey{}) != nil {
		return fn(ctx)
	}
	w.txmu.Lock()
	defer w.txmu.Unlock()

	w.mu.Lock()
	snap := snapshot{
		appts:   copyMap(w.appts),
		serials: copyMap(w.serials),
		yearly:  copyMap(w.yearly),
		pats:    copyMap(w.patients),
		bills:   copyMap(w.bills),
		entries: len(w.entries),
	}
	w.mu.Unlock()

	if err := fn(context.WithValue(ctx, worldTxKey{}, true)); err != nil {
		w.mu.Lock()
		w.appts, w.serials, w.yearly = snap.appts, snap.serials, snap.yearly
		w.patients, w.bills = snap.pats, snap.bills
		w.entries = w.entries[:snap.entries]
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *world) Notify(doctorID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notified = append(w.notified, doctorID)
}

func dayKey(doctorID uuid.UUID, day time.Time) string {
	return doctorID.String() + "/" + day.Format(time.DateOnly)
}

// -- appointment repository --

type apptRepo struct{ w *world }

func (r apptRepo) Create(_ context.Context, a *Appointment) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.w.appts[a.ID] = *a
	return nil
}

func (r apptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	a, ok := r.w.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r apptRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r apptRepo) UpdateStatus(_ context.Context, a *Appointment) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	stored, ok := r.w.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	stored.Status, stored.EntryTime, stored.ExitTime = a.Status, a.EntryTime, a.ExitTime
	r.w.appts[a.ID] = stored
	return nil
}

func (r apptRepo) UpdateDetails(_ context.Context, a *Appointment) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	stored, ok := r.w.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	stored.ChiefComplaint, stored.Diagnosis = a.ChiefComplaint, a.Diagnosis
	r.w.appts[a.ID] = stored
	return nil
}

func (r apptRepo) active(doctorID uuid.UUID, day time.Time, statuses ...Status) []*Appointment {
	var out []*Appointment
	for _, a := range r.w.appts {
		if a.DoctorID != doctorID || !a.AppointmentDate.Equal(day) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				a := a
				out = append(out, &a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuePosition != out[j].QueuePosition {
			return out[i].QueuePosition < out[j].QueuePosition
		}
		return out[i].SerialNumber < out[j].SerialNumber
	})
	return out
}

func (r apptRepo) ListActiveForUpdate(_ context.Context, doctorID uuid.UUID, day time.Time) ([]*Appointment, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.active(doctorID, day, ActiveStatuses...), nil
}

func (r apptRepo) UpdatePositions(_ context.Context, moves []PositionMove) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, m := range moves {
		a := r.w.appts[m.AppointmentID]
		a.QueuePosition = m.To
		r.w.appts[m.AppointmentID] = a
	}
	return nil
}

func (r apptRepo) FirstWaitingForUpdate(_ context.Context, doctorID uuid.UUID, day time.Time) (*Appointment, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	waiting := r.active(doctorID, day, StatusWaiting)
	if len(waiting) == 0 {
		return nil, ErrNoPatientsWaiting
	}
	return waiting[0], nil
}

func (r apptRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var out []*Appointment
	for _, a := range r.w.appts {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Day != nil && !a.AppointmentDate.Equal(*f.Day) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// -- sequence repository --

type seqRepo struct{ w *world }

func (r seqRepo) IncrementSerial(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	k := dayKey(doctorID, day)
	r.w.serials[k]++
	return r.w.serials[k], nil
}

func (r seqRepo) LockDay(context.Context, uuid.UUID, time.Time) error { return nil }

func (r seqRepo) CountActive(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return len(apptRepo(r).active(doctorID, day, ActiveStatuses...)), nil
}

func (r seqRepo) NextYearly(_ context.Context, scope string, year int) (int, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	k := fmt.Sprintf("%s:%d", scope, year)
	r.w.yearly[k]++
	return r.w.yearly[k], nil
}

// -- collaborators --

type doctorDir struct{ w *world }

func (d doctorDir) GetByID(_ context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	doc, ok := d.w.doctors[id]
	if !ok {
		return nil, doctor.ErrDoctorNotFound
	}
	return doc, nil
}

type patientReg struct {
	w   *world
	seq *sequence.Allocator
}

func (p patientReg) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	pat, ok := p.w.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return &pat, nil
}

func (p patientReg) Register(ctx context.Context, in patient.RegisterInput, staffID string) (*patient.Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p.w.mu.Lock()
	for _, other := range p.w.patients {
		if other.Phone == in.Phone {
			p.w.mu.Unlock()
			return nil, patient.ErrPhoneTaken
		}
	}
	p.w.mu.Unlock()

	code, err := p.seq.NextPatientCode(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	pat := patient.Patient{ID: uuid.New(), PatientCode: code, Name: in.Name, Phone: in.Phone, CreatedBy: staffID}
	p.w.mu.Lock()
	p.w.patients[pat.ID] = pat
	p.w.mu.Unlock()
	return &pat, nil
}

type billGen struct{ w *world }

func (b billGen) CreateForAppointment(_ context.Context, appointmentID, patientID uuid.UUID, fees billing.FeeSchedule, staffID string) (*billing.Bill, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	if b.w.failBilling {
		return nil, fmt.Errorf("bill insert failed")
	}
	total := fees.Consultation.Add(fees.Hospital)
	bill := billing.Bill{
		ID:            uuid.New(),
		BillNumber:    fmt.Sprintf("B-2025-%04d", len(b.w.bills)+1),
		AppointmentID: appointmentID,
		PatientID:     patientID,
		TotalAmount:   total,
		PaidAmount:    decimal.Zero,
		DueAmount:     total,
		Status:        billing.StatusPending,
		CreatedBy:     staffID,
	}
	b.w.bills[appointmentID] = bill
	return &bill, nil
}

type eventSink struct{ w *world }

func (e eventSink) AppendBatch(_ context.Context, entries ...events.Entry) ([]*events.Event, error) {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	out := make([]*events.Event, len(entries))
	for i, en := range entries {
		if !en.Type.Valid() {
			return nil, events.ErrUnknownEventType
		}
		out[i] = &events.Event{ID: uuid.New(), AppointmentID: en.AppointmentID, Type: en.Type}
	}
	e.w.entries = append(e.w.entries, entries...)
	return out, nil
}

// -- fixture --

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	w       *world
	svc     *Service
	doctor  uuid.UUID
	patient uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := newWorldState()
	alloc := sequence.NewAllocator(seqRepo{w}, time.UTC)

	doc := &doctor.Doctor{ID: uuid.New(), Name: "Dr. Karim", IsAvailable: true,
		ConsultationFee: decimal.NewFromInt(500), HospitalFee: decimal.NewFromInt(100)}
	w.doctors[doc.ID] = doc
	pat := patient.Patient{ID: uuid.New(), PatientCode: "PID25-000001", Name: "Nadia", Phone: "01711000001"}
	w.patients[pat.ID] = pat
	w.yearly["patient:2025"] = 1

	svc := NewService(Deps{
		Repo:     apptRepo{w},
		Seq:      alloc,
		Doctors:  doctorDir{w},
		Patients: patientReg{w: w, seq: alloc},
		Bills:    billGen{w},
		Events:   eventSink{w},
		Tx:       w,
		Notifier: w,
		Logger:   zerolog.Nop(),
	})
	svc.now = func() time.Time { return testNow }
	return &fixture{w: w, svc: svc, doctor: doc.ID, patient: pat.ID}
}

func (f *fixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	p := patient.Patient{ID: uuid.New(), Name: "P", Phone: uuid.NewString()[:12]}
	f.w.patients[p.ID] = p
	return p.ID
}

func (f *fixture) register(t *testing.T) *Appointment {
	t.Helper()
	reg, err := f.svc.Create(context.Background(), CreateInput{PatientID: f.addPatient(t), DoctorID: f.doctor}, "reception-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg.Appointment
}

func (f *fixture) stored(id uuid.UUID) Appointment {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.appts[id]
}

// activePositions returns the active queue as appointment ids in position
// order, failing if positions are not exactly 1..k.
func (f *fixture) activePositions(t *testing.T) []uuid.UUID {
	t.Helper()
	f.w.mu.Lock()
	active := apptRepo{f.w}.active(f.doctor, sequence.Day(testNow, time.UTC), ActiveStatuses...)
	f.w.mu.Unlock()
	ids := make([]uuid.UUID, len(active))
	for i, a := range active {
		if a.QueuePosition != i+1 {
			t.Fatalf("queue positions not contiguous: index %d has position %d", i, a.QueuePosition)
		}
		ids[i] = a.ID
	}
	return ids
}

func (f *fixture) eventTypes(appointmentID uuid.UUID) []events.EventType {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []events.EventType
	for _, e := range f.w.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (f *fixture) counts() (appts, bills, entries, notified int) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return len(f.w.appts), len(f.w.bills), len(f.w.entries), len(f.w.notified)
}
