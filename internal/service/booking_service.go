package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"lodging/internal/availability"
	"lodging/internal/clock"
	"lodging/internal/config"
	"lodging/internal/db"
	"lodging/internal/entities"
	apperr "lodging/internal/errors"
	"lodging/internal/lock"
	"lodging/internal/repository"
	"lodging/internal/utils"
)

// DefaultLockWait bounds how long a request waits for an accommodation lock.
const DefaultLockWait = 5 * time.Second

// Refunder returns money for a payment that was marked refunded.
type Refunder interface {
	Refund(ctx context.Context, gatewayRef string) error
}

type CreateRequest struct {
	GuestID         int64
	AccommodationID int64
	Checkin         time.Time
	Checkout        time.Time
	GuestCount      int
}

// BookingService creates and cancels reservations. Every check-then-write on
// an accommodation's calendar runs while holding that accommodation's lock.
type BookingService struct {
	ledger   repository.ReservationLedger
	catalog  repository.AccommodationCatalog
	locker   lock.Locker
	clock    clock.Clock
	events   EventDispatcher
	refunder Refunder
	log      logrus.FieldLogger

	Backoff  BackOffPolicy
	LockWait time.Duration
}

func NewBookingService(
	ledger repository.ReservationLedger,
	catalog repository.AccommodationCatalog,
	locker lock.Locker,
	clk clock.Clock,
	events EventDispatcher,
	refunder Refunder,
	log logrus.FieldLogger,
) *BookingService {
	if events == nil {
		events = Dispatchers{}
	}
	return &BookingService{
		ledger:   ledger,
		catalog:  catalog,
		locker:   locker,
		clock:    clk,
		events:   events,
		refunder: refunder,
		log:      log,
		Backoff:  DefaultBackOff,
		LockWait: DefaultLockWait,
	}
}

func (s *BookingService) Create(ctx context.Context, req CreateRequest) (*db.Reservation, error) {
	now := s.clock.Now()
	iv := availability.Interval{Checkin: utils.NormalizeDate(req.Checkin), Checkout: utils.NormalizeDate(req.Checkout)}
	if !iv.Valid() || iv.Checkin.Before(utils.NormalizeDate(now)) {
		return nil, apperr.ErrInvalidRange
	}
	if req.GuestCount <= 0 {
		return nil, apperr.ErrInvalidInput
	}

	acc, err := s.accommodation(ctx, req.AccommodationID)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, apperr.ErrAccommodationInactive
	}
	if req.GuestCount > acc.Capacity {
		return nil, apperr.ErrCapacityExceeded
	}

	res := &db.Reservation{
		ID:              uuid.New(),
		AccommodationID: acc.ID,
		GuestID:         req.GuestID,
		Checkin:         iv.Checkin,
		Checkout:        iv.Checkout,
		GuestCount:      req.GuestCount,
		State:           db.StatePendingPayment,
		TotalPrice:      acc.NightlyRate.Mul(decimal.NewFromInt(int64(utils.Nights(iv.Checkin, iv.Checkout)))),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	unlock, err := s.lock(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	err = s.insert(ctx, res, iv)
	unlock()
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id":   res.ID,
		"accommodation_id": res.AccommodationID,
		"guest_id":         res.GuestID,
	}).Info("reservation created")
	s.events.Dispatch(ctx, newEvent(entities.EventReservationCreated, res, now))
	return res, nil
}

// insert re-checks the calendar and writes the reservation. The caller holds
// the accommodation lock.
func (s *BookingService) insert(ctx context.Context, res *db.Reservation, iv availability.Interval) error {
	overlaps, err := withRetry(ctx, s.Backoff, func() (bool, error) {
		return s.ledger.Overlaps(ctx, res.AccommodationID, iv)
	})
	if err != nil {
		return internal("check availability", err)
	}
	if overlaps {
		return apperr.ErrOverlapConflict
	}
	_, err = withRetry(ctx, s.Backoff, func() (struct{}, error) {
		return struct{}{}, s.ledger.Insert(ctx, res)
	})
	switch {
	case errors.Is(err, repository.ErrOverlap):
		return apperr.ErrOverlapConflict
	case err != nil:
		return internal("insert reservation", err)
	}
	return nil
}

func (s *BookingService) Cancel(ctx context.Context, actor db.Actor, id uuid.UUID, reason string) (*db.Reservation, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, current); err != nil {
		return nil, err
	}
	if current.State.IsTerminal() {
		return nil, apperr.ErrInvalidState
	}

	unlock, err := s.lock(ctx, current.AccommodationID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	updated, err := withRetry(ctx, s.Backoff, func() (*db.Reservation, error) {
		return s.ledger.Transition(ctx, id, []db.ReservationState{db.StatePendingPayment, db.StateConfirmed}, db.StateCancelled, reason, now)
	})
	unlock()
	switch {
	case errors.Is(err, repository.ErrStateConflict):
		return nil, apperr.ErrInvalidState
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperr.ErrNotFound
	case err != nil:
		return nil, internal("cancel reservation", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"reservation_id":   updated.ID,
		"accommodation_id": updated.AccommodationID,
		"actor_id":         actor.ID,
	})
	log.Info("reservation cancelled")
	s.refund(ctx, updated, log)
	s.events.Dispatch(ctx, newEvent(entities.EventReservationCancelled, updated, now))
	return updated, nil
}

// refund returns the money for a payment the cancellation marked refunded.
// It runs after the lock is released; a gateway failure is only logged.
func (s *BookingService) refund(ctx context.Context, r *db.Reservation, log logrus.FieldLogger) {
	if s.refunder == nil || r.PaymentID == nil {
		return
	}
	pay, err := s.ledger.PaymentFor(ctx, r.ID)
	if err != nil || pay.State != db.PaymentRefunded || pay.GatewayRef == "" {
		return
	}
	if err := s.refunder.Refund(ctx, pay.GatewayRef); err != nil {
		config.LogError(log, "booking", "Refund", logrus.Fields{"gateway_ref": pay.GatewayRef}, err)
	}
}

func (s *BookingService) Get(ctx context.Context, actor db.Actor, id uuid.UUID) (*db.Reservation, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CheckAvailability reports whether the accommodation is bookable for the
// half-open range. Unknown or inactive accommodations are never available.
func (s *BookingService) CheckAvailability(ctx context.Context, accommodationID int64, checkin, checkout time.Time) (bool, error) {
	iv := availability.Interval{Checkin: utils.NormalizeDate(checkin), Checkout: utils.NormalizeDate(checkout)}
	if !iv.Valid() {
		return false, apperr.ErrInvalidRange
	}
	acc, err := s.accommodation(ctx, accommodationID)
	if errors.Is(err, apperr.ErrAccommodationInactive) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !acc.Active {
		return false, nil
	}
	overlaps, err := withRetry(ctx, s.Backoff, func() (bool, error) {
		return s.ledger.Overlaps(ctx, accommodationID, iv)
	})
	if err != nil {
		return false, internal("check availability", err)
	}
	return !overlaps, nil
}

// authorize lets the guest, the accommodation's host or an admin through.
func (s *BookingService) authorize(ctx context.Context, actor db.Actor, r *db.Reservation) error {
	if actor.IsAdmin || actor.ID == r.GuestID {
		return nil
	}
	if !actor.IsHost {
		return apperr.ErrForbidden
	}
	acc, err := s.accommodation(ctx, r.AccommodationID)
	if err != nil {
		return err
	}
	if acc.HostID != actor.ID {
		return apperr.ErrForbidden
	}
	return nil
}

func (s *BookingService) get(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	r, err := withRetry(ctx, s.Backoff, func() (*db.Reservation, error) {
		return s.ledger.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, internal("get reservation", err)
	}
	return r, nil
}

func (s *BookingService) accommodation(ctx context.Context, id int64) (*db.Accommodation, error) {
	acc, err := withRetry(ctx, s.Backoff, func() (*db.Accommodation, error) {
		return s.catalog.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrAccommodationInactive
	}
	if err != nil {
		return nil, internal("get accommodation", err)
	}
	return acc, nil
}

func (s *BookingService) lock(ctx context.Context, accommodationID int64) (lock.Unlock, error) {
	return acquire(ctx, s.locker, lock.AccommodationKey(accommodationID), s.LockWait)
}

// acquire takes key within wait. A lock that cannot be had in time is
// reported as a retryable busy error.
func acquire(ctx context.Context, locker lock.Locker, key string, wait time.Duration) (lock.Unlock, error) {
	lctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	unlock, err := locker.Lock(lctx, key)
	if err != nil {
		return nil, apperr.ErrBusy
	}
	return unlock, nil
}
