package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lodging/internal/db"
	"lodging/internal/entities"
	"lodging/internal/utils"
)

// EventDispatcher receives reservation facts. Implementations must not block
// the caller on delivery.
type EventDispatcher interface {
	Dispatch(ctx context.Context, e entities.ReservationEvent)
}

// Dispatchers fans an event out to every configured dispatcher.
type Dispatchers []EventDispatcher

func (d Dispatchers) Dispatch(ctx context.Context, e entities.ReservationEvent) {
	for _, dispatcher := range d {
		if dispatcher != nil {
			dispatcher.Dispatch(ctx, e)
		}
	}
}

func newEvent(kind string, r *db.Reservation, at time.Time) entities.ReservationEvent {
	return entities.ReservationEvent{
		ID:              uuid.New(),
		Type:            kind,
		ReservationID:   r.ID,
		AccommodationID: r.AccommodationID,
		GuestID:         r.GuestID,
		State:           r.State.String(),
		Checkin:         utils.FormatDate(r.Checkin),
		Checkout:        utils.FormatDate(r.Checkout),
		Reason:          r.CancellationReason,
		OccurredAt:      at,
	}
}
