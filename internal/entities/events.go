package entities

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationCompleted = "reservation.completed"
)

// ReservationEvent is a fact about a reservation that already happened.
type ReservationEvent struct {
	ID              uuid.UUID `json:"id"`
	Type            string    `json:"type"`
	ReservationID   uuid.UUID `json:"reservation_id"`
	AccommodationID int64     `json:"accommodation_id"`
	GuestID         int64     `json:"guest_id"`
	State           string    `json:"state"`
	Checkin         string    `json:"checkin"`
	Checkout        string    `json:"checkout"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
