package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationState string

const (
	StatePendingPayment ReservationState = "PENDING_PAYMENT"
	StateConfirmed      ReservationState = "CONFIRMED"
	StateCancelled      ReservationState = "CANCELLED"
	StateCompleted      ReservationState = "COMPLETED"
)

// IsActive reports whether a reservation in this state occupies the calendar.
func (s ReservationState) IsActive() bool {
	return s == StatePendingPayment || s == StateConfirmed
}

func (s ReservationState) IsTerminal() bool {
	return s == StateCancelled || s == StateCompleted
}

func (s ReservationState) String() string {
	return string(s)
}

type PaymentState string

const (
	PaymentPending  PaymentState = "PENDING"
	PaymentApproved PaymentState = "APPROVED"
	PaymentRejected PaymentState = "REJECTED"
	PaymentRefunded PaymentState = "REFUNDED"
)

// Outcome is the verdict a payment gateway reports for a reservation.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

func (o Outcome) Valid() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// Reservation occupies [Checkin, Checkout) on an accommodation while active.
// Checkin and Checkout are calendar dates at UTC midnight.
type Reservation struct {
	ID                 uuid.UUID
	AccommodationID    int64
	GuestID            int64
	Checkin            time.Time
	Checkout           time.Time
	GuestCount         int
	State              ReservationState
	TotalPrice         decimal.Decimal
	CancellationReason string
	PaymentID          *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Payment struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	Amount        decimal.Decimal
	Method        string
	GatewayRef    string
	State         PaymentState
	ProcessedAt   time.Time
}

// RecoveryCode is stored with a bcrypt hash of the code; the plain code is
// only returned to the caller that requested it.
type RecoveryCode struct {
	ID        uuid.UUID
	UserID    int64
	Code      string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Usable reports whether the code can still be consumed at now.
func (c RecoveryCode) Usable(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}

type Accommodation struct {
	ID          int64
	HostID      int64
	Active      bool
	Capacity    int
	NightlyRate decimal.Decimal
}

type User struct {
	ID     int64
	Email  string
	Name   string
	Phone  string
	Active bool
}

// Actor is the authenticated caller with its capabilities resolved once per
// request.
type Actor struct {
	ID      int64
	IsHost  bool
	IsAdmin bool
}
