package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lodging/internal/availability"
	"lodging/internal/db"
	"lodging/internal/utils"
)

// exclusionViolation is raised by the reservations_no_overlap constraint.
const exclusionViolation = "23P01"

const reservationColumns = `id, accommodation_id, guest_id, checkin, checkout, guest_count, state,
	total_price, cancellation_reason, payment_id, created_at, updated_at`

type ReservationRepository struct {
	DB *sql.DB
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*db.Reservation, error) {
	var (
		r         db.Reservation
		state     string
		paymentID uuid.NullUUID
	)
	err := row.Scan(&r.ID, &r.AccommodationID, &r.GuestID, &r.Checkin, &r.Checkout, &r.GuestCount, &state,
		&r.TotalPrice, &r.CancellationReason, &paymentID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.State = db.ReservationState(state)
	r.Checkin = utils.NormalizeDate(r.Checkin)
	r.Checkout = utils.NormalizeDate(r.Checkout)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if paymentID.Valid {
		id := paymentID.UUID
		r.PaymentID = &id
	}
	return &r, nil
}

func (r *ReservationRepository) Overlaps(ctx context.Context, accommodationID int64, iv availability.Interval) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM reservations
	WHERE accommodation_id = $1
	  AND state IN ('PENDING_PAYMENT', 'CONFIRMED')
	  AND checkin < $3 AND checkout > $2
)`
	var exists bool
	err := r.DB.QueryRowContext(ctx, q, accommodationID, utils.FormatDate(iv.Checkin), utils.FormatDate(iv.Checkout)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking overlap for accommodation %d: %w", accommodationID, err)
	}
	return exists, nil
}

func (r *ReservationRepository) Insert(ctx context.Context, res *db.Reservation) error {
	const q = `
INSERT INTO reservations (id, accommodation_id, guest_id, checkin, checkout, guest_count, state,
	total_price, cancellation_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.DB.ExecContext(ctx, q,
		res.ID,
		res.AccommodationID,
		res.GuestID,
		utils.FormatDate(res.Checkin),
		utils.FormatDate(res.Checkout),
		res.GuestCount,
		string(res.State),
		res.TotalPrice,
		res.CancellationReason,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == exclusionViolation {
			return ErrOverlap
		}
		return fmt.Errorf("error inserting reservation %s: %w", res.ID, err)
	}
	return nil
}

func (r *ReservationRepository) Get(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	return scanReservation(r.DB.QueryRowContext(ctx, q, id))
}

func (r *ReservationRepository) Transition(ctx context.Context, id uuid.UUID, from []db.ReservationState, to db.ReservationState, reason string, at time.Time) (res *db.Reservation, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !containsState(from, current.State) {
		err = ErrStateConflict
		return nil, err
	}

	const upd = `
UPDATE reservations
SET state = $2,
    cancellation_reason = CASE WHEN $3 = '' THEN cancellation_reason ELSE $3 END,
    updated_at = $4
WHERE id = $1
RETURNING ` + reservationColumns
	res, err = scanReservation(tx.QueryRowContext(ctx, upd, id, string(to), reason, at))
	if err != nil {
		return nil, err
	}

	if current.State == db.StateConfirmed && to == db.StateCancelled {
		const refund = `UPDATE payments SET state = 'REFUNDED', processed_at = $2 WHERE reservation_id = $1 AND state = 'APPROVED'`
		if _, err = tx.ExecContext(ctx, refund, id, at); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}
