package entities

type CreateReservationRequest struct {
	AccommodationID int64  `json:"accommodation_id" validate:"required,gt=0"`
	Checkin         string `json:"checkin" validate:"required,datetime=2006-01-02"`
	Checkout        string `json:"checkout" validate:"required,datetime=2006-01-02"`
	GuestCount      int    `json:"guest_count" validate:"required,gt=0"`
	Email           string `json:"email" validate:"omitempty,email"`
}

type CancelReservationRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type AvailabilityRequest struct {
	AccommodationID int64  `json:"accommodation_id" validate:"required,gt=0"`
	Checkin         string `json:"checkin" validate:"required,datetime=2006-01-02"`
	Checkout        string `json:"checkout" validate:"required,datetime=2006-01-02"`
}

type SettlePaymentRequest struct {
	ReservationID string `json:"reservation_id" validate:"required,uuid"`
	Outcome       string `json:"outcome" validate:"required,oneof=APPROVED REJECTED"`
	Amount        string `json:"amount" validate:"required,numeric"`
	Method        string `json:"method" validate:"required,max=50"`
	GatewayRef    string `json:"gateway_ref" validate:"max=255"`
}

type RecoveryCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type RecoveryCodeCheckRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Code   string `json:"code" validate:"required,alphanum,min=6,max=10"`
}
