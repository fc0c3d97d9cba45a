// Package sequence allocates serial numbers, queue positions and the yearly
// human-readable codes used for patients and bills. Every allocation takes a
// row lock that is held until the surrounding transaction ends, so callers
// must run inside db.TxManager.WithinTx.
package sequence

import (
	"fmt"
	"time"
)

// Counter scopes in yearly_counters.
const (
	ScopePatient = "patient"
	ScopeBill    = "bill"
)

// Assignment is the serial and queue position given to a new appointment.
type Assignment struct {
	SerialNumber  int
	QueuePosition int
}

// Day returns the clinic calendar day containing t, as midnight UTC so that
// it maps one-to-one onto a DATE column.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Month formats the appointment month, e.g. "2026-03".
func Month(day time.Time) string {
	return day.Format("2006-01")
}

// PatientCode formats PID<YY>-<6 digits>, e.g. PID26-000042.
func PatientCode(year, n int) string {
	return fmt.Sprintf("PID%02d-%06d", year%100, n)
}

// BillNumber formats B-<YYYY>-<4 digits>, e.g. B-2026-0007. Numbers past
// 9999 keep growing rather than wrapping.
func BillNumber(year, n int) string {
	return fmt.Sprintf("B-%04d-%04d", year, n)
}
