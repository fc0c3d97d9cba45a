package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"valid", `{"resource":"doctor-1","origin":"a"}`, "doctor-1", false},
		{"missing resource", `{"origin":"a"}`, "", true},
		{"not json", `doctor-1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := decode(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Resource != tt.want {
				t.Errorf("expected %s, got %s", tt.want, m.Resource)
			}
		})
	}
}

func TestEncodeKeepsResource(t *testing.T) {
	payload, err := encode(Message{Resource: "doctor-9", Origin: "i-1", SentAt: time.Now()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := decode(string(payload))
	if err != nil || m.Resource != "doctor-9" || m.Origin != "i-1" {
		t.Errorf("unexpected message %+v (%v)", m, err)
	}
}

func TestNewRedisBus_BadURL(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), "://nope", "clinic:queue", zerolog.Nop()); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
