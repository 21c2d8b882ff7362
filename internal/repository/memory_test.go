package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodging/internal/availability"
	"lodging/internal/db"
)

var day0 = time.Date(2030, 10, 15, 0, 0, 0, 0, time.UTC)

func newReservation(accID int64, fromDay, toDay int, state db.ReservationState) *db.Reservation {
	return &db.Reservation{
		ID:              uuid.New(),
		AccommodationID: accID,
		GuestID:         1,
		Checkin:         day0.AddDate(0, 0, fromDay),
		Checkout:        day0.AddDate(0, 0, toDay),
		GuestCount:      2,
		State:           state,
		TotalPrice:      decimal.NewFromInt(int64(100 * (toDay - fromDay))),
		CreatedAt:       day0.Add(-48 * time.Hour),
		UpdatedAt:       day0.Add(-48 * time.Hour),
	}
}

func interval(fromDay, toDay int) availability.Interval {
	return availability.Interval{Checkin: day0.AddDate(0, 0, fromDay), Checkout: day0.AddDate(0, 0, toDay)}
}

func TestMemoryLedger_InsertRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	require.NoError(t, l.Insert(ctx, newReservation(1, 0, 5, db.StateConfirmed)))
	assert.ErrorIs(t, l.Insert(ctx, newReservation(1, 3, 7, db.StatePendingPayment)), ErrOverlap)
	assert.NoError(t, l.Insert(ctx, newReservation(1, 5, 10, db.StatePendingPayment)), "touching boundary")
	assert.NoError(t, l.Insert(ctx, newReservation(2, 3, 7, db.StatePendingPayment)), "other accommodation")

	overlaps, err := l.Overlaps(ctx, 1, interval(4, 6))
	require.NoError(t, err)
	assert.True(t, overlaps)
}

func TestMemoryLedger_ConcurrentInsertOneWins(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Insert(ctx, newReservation(9, i%3, 4+i%3, db.StatePendingPayment))
			switch err {
			case nil:
				atomic.AddInt32(&wins, 1)
			case ErrOverlap:
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(24), conflicts)
}

func TestMemoryLedger_TransitionReleasesInterval(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	r := newReservation(1, 0, 5, db.StatePendingPayment)
	require.NoError(t, l.Insert(ctx, r))

	got, err := l.Transition(ctx, r.ID, []db.ReservationState{db.StatePendingPayment, db.StateConfirmed}, db.StateCancelled, "plans changed", day0)
	require.NoError(t, err)
	assert.Equal(t, db.StateCancelled, got.State)
	assert.Equal(t, "plans changed", got.CancellationReason)

	overlaps, err := l.Overlaps(ctx, 1, interval(0, 5))
	require.NoError(t, err)
	assert.False(t, overlaps)

	_, err = l.Transition(ctx, r.ID, []db.ReservationState{db.StatePendingPayment}, db.StateCancelled, "", day0)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = l.Transition(ctx, uuid.New(), []db.ReservationState{db.StatePendingPayment}, db.StateCancelled, "", day0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_SettleOnce(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	r := newReservation(1, 0, 2, db.StatePendingPayment)
	require.NoError(t, l.Insert(ctx, r))

	pay := &db.Payment{ID: uuid.New(), ReservationID: r.ID, Amount: r.TotalPrice, Method: "card", State: db.PaymentApproved, ProcessedAt: day0}
	got, err := l.Settle(ctx, r.ID, pay, db.StateConfirmed, day0)
	require.NoError(t, err)
	assert.Equal(t, db.StateConfirmed, got.State)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, pay.ID, *got.PaymentID)

	_, err = l.Settle(ctx, r.ID, pay, db.StateConfirmed, day0)
	assert.ErrorIs(t, err, ErrStateConflict)

	// cancelling a confirmed reservation refunds its payment
	_, err = l.Transition(ctx, r.ID, []db.ReservationState{db.StateConfirmed}, db.StateCancelled, "host cancelled", day0)
	require.NoError(t, err)
	stored, err := l.PaymentFor(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentRefunded, stored.State)
}

func TestMemoryLedger_SettleRejectedReleasesInterval(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	r := newReservation(1, 0, 2, db.StatePendingPayment)
	require.NoError(t, l.Insert(ctx, r))

	pay := &db.Payment{ID: uuid.New(), ReservationID: r.ID, Amount: r.TotalPrice, Method: "card", State: db.PaymentRejected, ProcessedAt: day0}
	_, err := l.Settle(ctx, r.ID, pay, db.StateCancelled, day0)
	require.NoError(t, err)

	assert.NoError(t, l.Insert(ctx, newReservation(1, 0, 2, db.StatePendingPayment)))
}

func TestMemoryLedger_ListDue(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	past := newReservation(1, -5, -1, db.StateConfirmed)
	stale := newReservation(2, 1, 3, db.StatePendingPayment)
	fresh := newReservation(3, 1, 3, db.StatePendingPayment)
	fresh.CreatedAt = day0
	done := newReservation(4, -5, -1, db.StateCompleted)
	for _, r := range []*db.Reservation{past, stale, fresh, done} {
		require.NoError(t, l.Insert(ctx, r))
	}

	due, err := l.ListDue(ctx, day0, day0.Add(-30*time.Minute))
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, r := range due {
		ids[r.ID] = true
	}
	assert.Len(t, due, 2)
	assert.True(t, ids[past.ID])
	assert.True(t, ids[stale.ID])
}

func TestMemoryRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecoveryCodes()
	c := &db.RecoveryCode{ID: uuid.New(), UserID: 5, Code: "ABC123", CodeHash: "hash", CreatedAt: day0, ExpiresAt: day0.Add(15 * time.Minute)}
	require.NoError(t, s.Insert(ctx, c))

	codes, err := s.ListByUser(ctx, 5)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Empty(t, codes[0].Code, "plain code is never stored")

	ok, err := s.MarkUsed(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkUsed(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.DeleteExpired(ctx, day0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryDirectoryLookups(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUsers(db.User{ID: 1, Email: "Ana@example.com", Active: true})
	u, err := users.FindByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	_, err = users.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	catalog := NewMemoryCatalog(db.Accommodation{ID: 3, HostID: 1, Active: true, Capacity: 4})
	a, err := catalog.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Capacity)
	_, err = catalog.Get(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)
}
