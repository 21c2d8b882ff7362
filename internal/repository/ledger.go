package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lodging/internal/availability"
	"lodging/internal/db"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrOverlap       = errors.New("interval overlaps an active reservation")
	ErrStateConflict = errors.New("record is not in the expected state")
)

// ReservationLedger is the durable store of reservations and payments. Every
// mutation is a check-and-set on a single reservation.
type ReservationLedger interface {
	Overlaps(ctx context.Context, accommodationID int64, iv availability.Interval) (bool, error)
	// Insert stores a new reservation. It fails with ErrOverlap if the
	// reservation is active and its interval overlaps another active one.
	Insert(ctx context.Context, r *db.Reservation) error
	Get(ctx context.Context, id uuid.UUID) (*db.Reservation, error)
	// Transition moves a reservation to `to` only if its current state is in
	// `from`, failing with ErrStateConflict otherwise. Cancelling a CONFIRMED
	// reservation marks its approved payment REFUNDED in the same step.
	Transition(ctx context.Context, id uuid.UUID, from []db.ReservationState, to db.ReservationState, reason string, at time.Time) (*db.Reservation, error)
	// Settle records p and moves the reservation out of PENDING_PAYMENT.
	Settle(ctx context.Context, id uuid.UUID, p *db.Payment, to db.ReservationState, at time.Time) (*db.Reservation, error)
	// ListDue returns active reservations whose checkout is before now and
	// pending ones created before pendingBefore.
	ListDue(ctx context.Context, now, pendingBefore time.Time) ([]db.Reservation, error)
	PaymentFor(ctx context.Context, reservationID uuid.UUID) (*db.Payment, error)
}

type AccommodationCatalog interface {
	Get(ctx context.Context, id int64) (*db.Accommodation, error)
}

type UserDirectory interface {
	Get(ctx context.Context, id int64) (*db.User, error)
	FindByEmail(ctx context.Context, email string) (*db.User, error)
}

type RecoveryCodeStore interface {
	Insert(ctx context.Context, c *db.RecoveryCode) error
	ListByUser(ctx context.Context, userID int64) ([]db.RecoveryCode, error)
	// MarkUsed flips the used flag and reports whether this call did it.
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// IsTransient reports whether err is a storage failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" {
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01", "57P01":
			return true
		}
	}
	return false
}

func containsState(states []db.ReservationState, s db.ReservationState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
