package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_RecordPayment(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	b := f.bill(t, "500", "100")

	c, rec := postJSON(e, `{"bill_id":"`+b.ID.String()+`","amount":"300","method":"CASH"}`)
	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Bill struct {
			Status    string `json:"status"`
			DueAmount string `json:"due_amount"`
		} `json:"bill"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Bill.Status != "PARTIAL" || resp.Bill.DueAmount != "300" {
		t.Errorf("unexpected bill in response: %+v", resp.Bill)
	}
}

func TestHandler_RecordPayment_Errors(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	b := f.bill(t, "500", "100")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing bill", `{"amount":"10","method":"CASH"}`, http.StatusBadRequest},
		{"exceeds due", `{"bill_id":"` + b.ID.String() + `","amount":"700","method":"CASH"}`, http.StatusUnprocessableEntity},
		{"bad method", `{"bill_id":"` + b.ID.String() + `","amount":"10","method":"IOU"}`, http.StatusBadRequest},
		{"unknown bill", `{"bill_id":"` + uuid.New().String() + `","amount":"10","method":"CASH"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := postJSON(e, tt.body)
			httpErr, ok := h.RecordPayment(c).(*echo.HTTPError)
			if !ok || httpErr.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, httpErr)
			}
		})
	}
}

func TestHandler_GetAppointmentBill(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	b := f.bill(t, "500", "100")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(b.AppointmentID.String())
	if err := h.GetAppointmentBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != b.ID || len(got.Items) != 2 {
		t.Errorf("expected bill with two items, got %+v", got)
	}
}

func TestHandler_OverrideStatus(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	b := f.bill(t, "500", "0")

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"CANCELLED","reason":"walked out"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.OverrideStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"CANCELLED"`) {
		t.Errorf("expected cancelled bill, got %s", rec.Body.String())
	}
}
