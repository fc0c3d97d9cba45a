package prescription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/events"
)

type mockRepo struct {
	byAppointment map[uuid.UUID]*Prescription
	createErr     error
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.byAppointment[p.AppointmentID] = p
	return nil
}

func (m *mockRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.byAppointment[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	return p, nil
}

type apptStore map[uuid.UUID]*appointment.Appointment

func (s apptStore) GetForUpdate(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := s[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return a, nil
}

type recordingEvents struct{ entries []events.Entry }

func (r *recordingEvents) Append(_ context.Context, e events.Entry) (*events.Event, error) {
	r.entries = append(r.entries, e)
	return &events.Event{ID: uuid.New(), AppointmentID: e.AppointmentID, Type: e.Type}, nil
}

type inlineTx struct{}

func (inlineTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc    *Service
	repo   *mockRepo
	appts  apptStore
	events *recordingEvents
}

func newFixture() *fixture {
	f := &fixture{
		repo:   &mockRepo{byAppointment: make(map[uuid.UUID]*Prescription)},
		appts:  apptStore{},
		events: &recordingEvents{},
	}
	f.svc = NewService(f.repo, f.appts, f.events, inlineTx{}, zerolog.Nop())
	return f
}

func (f *fixture) appointment(status appointment.Status) uuid.UUID {
	a := &appointment.Appointment{ID: uuid.New(), Status: status}
	f.appts[a.ID] = a
	return a.ID
}

func validInput() CreateInput {
	return CreateInput{
		Notes: " rest ",
		Items: []Item{
			{MedicineName: " Paracetamol 500mg ", Instruction: "1+0+1 after meal", Duration: "5 days"},
			{},
			{MedicineName: "ORS", Instruction: "as needed"},
		},
	}
}

func TestCreate(t *testing.T) {
	f := newFixture()
	id := f.appointment(appointment.StatusInConsultation)

	p, err := f.svc.Create(context.Background(), id, validInput(), "dr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Notes != "rest" || len(p.Items) != 2 {
		t.Fatalf("unexpected prescription: %+v", p)
	}
	if p.Items[0].MedicineName != "Paracetamol 500mg" || p.Items[1].Position != 2 {
		t.Errorf("items not normalised: %+v", p.Items)
	}
	if len(f.events.entries) != 1 || f.events.entries[0].Type != events.PrescriptionCreated {
		t.Errorf("expected PRESCRIPTION_CREATED, got %+v", f.events.entries)
	}

	got, err := f.svc.Get(context.Background(), id)
	if err != nil || got.ID != p.ID {
		t.Errorf("expected stored prescription, got %v %v", got, err)
	}
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status appointment.Status
		in     CreateInput
		want   error
	}{
		{"waiting", appointment.StatusWaiting, validInput(), ErrNotInConsultation},
		{"completed", appointment.StatusCompleted, validInput(), ErrNotInConsultation},
		{"no items", appointment.StatusInConsultation, CreateInput{Items: []Item{{}}}, ErrNoItems},
		{"instruction without medicine", appointment.StatusInConsultation, CreateInput{Items: []Item{{Instruction: "twice"}}}, ErrMedicineRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := f.appointment(tt.status)
			if _, err := f.svc.Create(context.Background(), id, tt.in, "dr"); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(f.repo.byAppointment) != 0 || len(f.events.entries) != 0 {
				t.Error("rejected prescription left state behind")
			}
		})
	}
}

func TestCreate_OnlyOnce(t *testing.T) {
	f := newFixture()
	id := f.appointment(appointment.StatusInConsultation)
	if _, err := f.svc.Create(context.Background(), id, validInput(), "dr"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Create(context.Background(), id, validInput(), "dr"); !errors.Is(err, ErrPrescriptionExists) {
		t.Errorf("expected ErrPrescriptionExists, got %v", err)
	}
	if len(f.events.entries) != 1 {
		t.Errorf("expected a single event, got %d", len(f.events.entries))
	}
}

func TestCreate_UnknownAppointment(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), uuid.New(), validInput(), "dr"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestHandler_Create(t *testing.T) {
	f := newFixture()
	id := f.appointment(appointment.StatusWaiting)
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[{"medicine_name":"ORS"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	httpErr, ok := h.Create(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 outside consultation, got %v", httpErr)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	if httpErr, ok := h.Get(c).(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", httpErr)
	}
}
