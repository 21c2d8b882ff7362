package entities

import (
	"time"

	"lodging/internal/db"
	"lodging/internal/utils"
)

type ReservationResponse struct {
	ID                 string    `json:"id"`
	AccommodationID    int64     `json:"accommodation_id"`
	GuestID            int64     `json:"guest_id"`
	Checkin            string    `json:"checkin"`
	Checkout           string    `json:"checkout"`
	GuestCount         int       `json:"guest_count"`
	State              string    `json:"state"`
	TotalPrice         string    `json:"total_price"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	PaymentID          string    `json:"payment_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type CreateReservationResponse struct {
	ReservationResponse
	CheckoutURL string `json:"checkout_url,omitempty"`
}

type StateResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type AvailabilityResponse struct {
	AccommodationID int64  `json:"accommodation_id"`
	Checkin         string `json:"checkin"`
	Checkout        string `json:"checkout"`
	Available       bool   `json:"available"`
}

type RecoveryCodeResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

type SweepResponse struct {
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func NewReservationResponse(r *db.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:                 r.ID.String(),
		AccommodationID:    r.AccommodationID,
		GuestID:            r.GuestID,
		Checkin:            utils.FormatDate(r.Checkin),
		Checkout:           utils.FormatDate(r.Checkout),
		GuestCount:         r.GuestCount,
		State:              r.State.String(),
		TotalPrice:         r.TotalPrice.StringFixed(2),
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt,
	}
	if r.PaymentID != nil {
		resp.PaymentID = r.PaymentID.String()
	}
	return resp
}
