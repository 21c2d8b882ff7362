package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"lodging/internal/db"
)

// Settle locks the reservation row, checks it is still awaiting payment and
// writes the payment and the new state in one transaction.
func (r *ReservationRepository) Settle(ctx context.Context, id uuid.UUID, p *db.Payment, to db.ReservationState, at time.Time) (res *db.Reservation, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM reservations WHERE id = $1 FOR UPDATE`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrStateConflict
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if db.ReservationState(state) != db.StatePendingPayment {
		err = ErrStateConflict
		return nil, err
	}

	const ins = `
INSERT INTO payments (id, reservation_id, amount, method, gateway_ref, state, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err = tx.ExecContext(ctx, ins, p.ID, id, p.Amount, p.Method, p.GatewayRef, string(p.State), p.ProcessedAt); err != nil {
		return nil, err
	}

	const upd = `UPDATE reservations SET state = $2, payment_id = $3, updated_at = $4 WHERE id = $1 RETURNING ` + reservationColumns
	res, err = scanReservation(tx.QueryRowContext(ctx, upd, id, string(to), p.ID, at))
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ReservationRepository) PaymentFor(ctx context.Context, reservationID uuid.UUID) (*db.Payment, error) {
	const q = `
SELECT id, reservation_id, amount, method, gateway_ref, state, processed_at
FROM payments WHERE reservation_id = $1`
	var (
		p     db.Payment
		state string
	)
	err := r.DB.QueryRowContext(ctx, q, reservationID).
		Scan(&p.ID, &p.ReservationID, &p.Amount, &p.Method, &p.GatewayRef, &state, &p.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.State = db.PaymentState(state)
	p.ProcessedAt = p.ProcessedAt.UTC()
	return &p, nil
}
