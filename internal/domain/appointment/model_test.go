package appointment

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusInConsultation, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusWaiting, StatusCompleted, false},
		{StatusInConsultation, StatusCompleted, true},
		{StatusInConsultation, StatusCancelled, true},
		{StatusInConsultation, StatusWaiting, false},
		{StatusCompleted, StatusWaiting, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusWaiting, false},
		{StatusWaiting, StatusWaiting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCompact(t *testing.T) {
	mk := func(pos int) *Appointment { return &Appointment{ID: uuid.New(), QueuePosition: pos} }

	t.Run("gap in the middle", func(t *testing.T) {
		active := []*Appointment{mk(1), mk(3), mk(4)}
		moves := Compact(active)
		if len(moves) != 2 {
			t.Fatalf("expected 2 moves, got %d", len(moves))
		}
		if moves[0].AppointmentID != active[1].ID || moves[0].From != 3 || moves[0].To != 2 {
			t.Errorf("unexpected first move: %+v", moves[0])
		}
		for i, a := range active {
			if a.QueuePosition != i+1 {
				t.Errorf("index %d has position %d", i, a.QueuePosition)
			}
		}
	})

	t.Run("already contiguous", func(t *testing.T) {
		if moves := Compact([]*Appointment{mk(1), mk(2)}); len(moves) != 0 {
			t.Errorf("expected no moves, got %v", moves)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if moves := Compact(nil); moves != nil {
			t.Errorf("expected nil, got %v", moves)
		}
	})
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range ActiveStatuses {
		if !s.Active() || s.Terminal() {
			t.Errorf("%s should be active", s)
		}
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed and cancelled are terminal")
	}
	if Status("DONE").Valid() {
		t.Error("DONE is not a status")
	}
}
