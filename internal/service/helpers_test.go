package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"lodging/internal/clock"
	"lodging/internal/db"
	"lodging/internal/entities"
	"lodging/internal/lock"
	"lodging/internal/repository"
)

const (
	hostID  int64 = 100
	guestID int64 = 200
	otherID int64 = 300
	accA    int64 = 1
	accB    int64 = 2
)

var testNow = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func noBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []entities.ReservationEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e entities.ReservationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeRefunder struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (f *fakeRefunder) Refund(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	return f.err
}

type fixture struct {
	clock    *clock.Manual
	ledger   *repository.MemoryLedger
	catalog  *repository.MemoryCatalog
	events   *recordingDispatcher
	refunder *fakeRefunder
	booking  *BookingService
	payments *PaymentService
	jobs     *JobService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, repository.NewMemoryLedger(), lock.NewLocal())
}

func newFixtureWith(t *testing.T, ledger repository.ReservationLedger, locker lock.Locker) *fixture {
	t.Helper()
	f := &fixture{
		clock: clock.NewManual(testNow),
		catalog: repository.NewMemoryCatalog(
			db.Accommodation{ID: accA, HostID: hostID, Active: true, Capacity: 4, NightlyRate: decimal.NewFromInt(100)},
			db.Accommodation{ID: accB, HostID: hostID, Active: false, Capacity: 2, NightlyRate: decimal.NewFromInt(80)},
		),
		events:   &recordingDispatcher{},
		refunder: &fakeRefunder{},
	}
	if ml, ok := ledger.(*repository.MemoryLedger); ok {
		f.ledger = ml
	}
	log := nullLogger()
	f.booking = NewBookingService(ledger, f.catalog, locker, f.clock, f.events, f.refunder, log)
	f.booking.Backoff = noBackOff
	f.payments = NewPaymentService(ledger, locker, f.clock, f.events, log)
	f.payments.Backoff = noBackOff
	f.jobs = NewJobService(ledger, locker, f.clock, f.events, 30*time.Minute, log)
	f.jobs.Backoff = noBackOff
	return f
}

func (f *fixture) create(t *testing.T, checkin, checkout string) *db.Reservation {
	t.Helper()
	r, err := f.booking.Create(context.Background(), CreateRequest{
		GuestID:         guestID,
		AccommodationID: accA,
		Checkin:         date(checkin),
		Checkout:        date(checkout),
		GuestCount:      2,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) confirm(t *testing.T, r *db.Reservation, ref string) *db.Reservation {
	t.Helper()
	out, err := f.payments.Settle(context.Background(), SettleRequest{
		ReservationID: r.ID,
		Outcome:       db.OutcomeApproved,
		Amount:        r.TotalPrice,
		Method:        "card",
		GatewayRef:    ref,
	})
	require.NoError(t, err)
	return out
}

// flakyLedger injects failures into selected ledger calls.
type flakyLedger struct {
	repository.ReservationLedger

	mu              sync.Mutex
	insertFailures  int
	insertErr       error
	transitionFails map[uuid.UUID]error
}

func (l *flakyLedger) Insert(ctx context.Context, r *db.Reservation) error {
	l.mu.Lock()
	if l.insertFailures > 0 {
		l.insertFailures--
		err := l.insertErr
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()
	return l.ReservationLedger.Insert(ctx, r)
}

func (l *flakyLedger) Transition(ctx context.Context, id uuid.UUID, from []db.ReservationState, to db.ReservationState, reason string, at time.Time) (*db.Reservation, error) {
	l.mu.Lock()
	err, ok := l.transitionFails[id]
	l.mu.Unlock()
	if ok {
		return nil, err
	}
	return l.ReservationLedger.Transition(ctx, id, from, to, reason, at)
}

func (l *flakyLedger) heal(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.transitionFails, id)
}
