package repository

import (
	"context"
	"fmt"
	"time"

	"lodging/internal/db"
)

// ListDue returns the reservations the sweeper has work for: active ones past
// checkout and pending ones whose payment window has closed.
func (r *ReservationRepository) ListDue(ctx context.Context, now, pendingBefore time.Time) ([]db.Reservation, error) {
	q := `
SELECT ` + reservationColumns + `
FROM reservations
WHERE state IN ('PENDING_PAYMENT', 'CONFIRMED')
  AND ((checkout::timestamp AT TIME ZONE 'UTC') < $1
       OR (state = 'PENDING_PAYMENT' AND created_at < $2))
ORDER BY created_at`
	rows, err := r.DB.QueryContext(ctx, q, now, pendingBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying due reservations: %w", err)
	}
	defer rows.Close()

	var out []db.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning due reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating rows: %w", err)
	}
	return out, nil
}
