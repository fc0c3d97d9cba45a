package sequence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Allocator hands out serials, queue positions and yearly codes.
type Allocator struct {
	repo Repository
	loc  *time.Location
}

func NewAllocator(repo Repository, loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{repo: repo, loc: loc}
}

// Location is the clinic time zone used to cut calendar days.
func (a *Allocator) Location() *time.Location { return a.loc }

// Day returns the clinic day containing t.
func (a *Allocator) Day(t time.Time) time.Time { return Day(t, a.loc) }

// NextSerialNumber returns one more than the last serial issued to the doctor
// on day, starting at 1. Cancelled appointments never give their serial back.
func (a *Allocator) NextSerialNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	return a.repo.IncrementSerial(ctx, doctorID, day)
}

// NextQueuePosition returns the active count plus one. The caller must hold
// the doctor-day lock (NextSerialNumber or LockQueue) in the same
// transaction or two callers can read the same count.
func (a *Allocator) NextQueuePosition(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	n, err := a.repo.CountActive(ctx, doctorID, day)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// Assign allocates both numbers for a new appointment. The serial is taken
// first so the position is read under the lock.
func (a *Allocator) Assign(ctx context.Context, doctorID uuid.UUID, day time.Time) (Assignment, error) {
	serial, err := a.NextSerialNumber(ctx, doctorID, day)
	if err != nil {
		return Assignment{}, err
	}
	pos, err := a.NextQueuePosition(ctx, doctorID, day)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{SerialNumber: serial, QueuePosition: pos}, nil
}

// LockQueue takes the doctor-day lock without allocating. Status changes
// call it before touching appointment rows so every path locks in the same
// order.
func (a *Allocator) LockQueue(ctx context.Context, doctorID uuid.UUID, day time.Time) error {
	return a.repo.LockDay(ctx, doctorID, day)
}

// NextPatientCode allocates the next PID for the clinic year containing t.
func (a *Allocator) NextPatientCode(ctx context.Context, t time.Time) (string, error) {
	year := t.In(a.loc).Year()
	n, err := a.repo.NextYearly(ctx, ScopePatient, year)
	if err != nil {
		return "", err
	}
	return PatientCode(year, n), nil
}

// NextBillNumber allocates the next bill number for the clinic year
// containing t.
func (a *Allocator) NextBillNumber(ctx context.Context, t time.Time) (string, error) {
	year := t.In(a.loc).Year()
	n, err := a.repo.NextYearly(ctx, ScopeBill, year)
	if err != nil {
		return "", err
	}
	return BillNumber(year, n), nil
}
