package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"lodging/internal/clock"
	"lodging/internal/db"
	"lodging/internal/entities"
	apperr "lodging/internal/errors"
	"lodging/internal/lock"
	"lodging/internal/repository"
)

type SettleRequest struct {
	ReservationID uuid.UUID
	Outcome       db.Outcome
	Amount        decimal.Decimal
	Method        string
	GatewayRef    string
}

// PaymentService applies gateway outcomes to pending reservations. A
// reservation is settled at most once; replays fail with
// ErrReservationNotPending.
type PaymentService struct {
	ledger repository.ReservationLedger
	locker lock.Locker
	clock  clock.Clock
	events EventDispatcher
	log    logrus.FieldLogger

	Backoff  BackOffPolicy
	LockWait time.Duration
}

func NewPaymentService(ledger repository.ReservationLedger, locker lock.Locker, clk clock.Clock, events EventDispatcher, log logrus.FieldLogger) *PaymentService {
	if events == nil {
		events = Dispatchers{}
	}
	return &PaymentService{
		ledger:   ledger,
		locker:   locker,
		clock:    clk,
		events:   events,
		log:      log,
		Backoff:  DefaultBackOff,
		LockWait: DefaultLockWait,
	}
}

func (s *PaymentService) Settle(ctx context.Context, req SettleRequest) (*db.Reservation, error) {
	if !req.Outcome.Valid() {
		return nil, apperr.ErrInvalidInput
	}

	current, err := withRetry(ctx, s.Backoff, func() (*db.Reservation, error) {
		return s.ledger.Get(ctx, req.ReservationID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrReservationNotPending
	}
	if err != nil {
		return nil, internal("get reservation", err)
	}
	if current.State != db.StatePendingPayment {
		return nil, apperr.ErrReservationNotPending
	}
	if !req.Amount.Equal(current.TotalPrice) {
		return nil, apperr.ErrAmountMismatch
	}

	to, payState := db.StateConfirmed, db.PaymentApproved
	if req.Outcome == db.OutcomeRejected {
		to, payState = db.StateCancelled, db.PaymentRejected
	}

	unlock, err := acquire(ctx, s.locker, lock.AccommodationKey(current.AccommodationID), s.LockWait)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	payment := &db.Payment{
		ID:            uuid.New(),
		ReservationID: current.ID,
		Amount:        req.Amount,
		Method:        req.Method,
		GatewayRef:    req.GatewayRef,
		State:         payState,
		ProcessedAt:   now,
	}
	updated, err := withRetry(ctx, s.Backoff, func() (*db.Reservation, error) {
		return s.ledger.Settle(ctx, current.ID, payment, to, now)
	})
	unlock()
	if errors.Is(err, repository.ErrStateConflict) {
		return nil, apperr.ErrReservationNotPending
	}
	if err != nil {
		return nil, internal("settle reservation", err)
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id": updated.ID,
		"payment_id":     payment.ID,
		"outcome":        req.Outcome,
	}).Info("payment settled")

	kind := entities.EventReservationConfirmed
	if to == db.StateCancelled {
		kind = entities.EventReservationCancelled
	}
	s.events.Dispatch(ctx, newEvent(kind, updated, now))
	return updated, nil
}
