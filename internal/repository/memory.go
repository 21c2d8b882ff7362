package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lodging/internal/availability"
	"lodging/internal/db"
)

// MemoryLedger keeps reservations in process memory. The availability index
// is updated under the same mutex as the reservation it reflects.
type MemoryLedger struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]*db.Reservation
	payments     map[uuid.UUID]*db.Payment
	index        *availability.Index
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		reservations: make(map[uuid.UUID]*db.Reservation),
		payments:     make(map[uuid.UUID]*db.Payment),
		index:        availability.NewIndex(),
	}
}

func (m *MemoryLedger) Overlaps(_ context.Context, accommodationID int64, iv availability.Interval) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Overlaps(accommodationID, iv), nil
}

func (m *MemoryLedger) Insert(_ context.Context, r *db.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	iv := availability.Interval{Checkin: r.Checkin, Checkout: r.Checkout}
	if r.State.IsActive() {
		if m.index.Overlaps(r.AccommodationID, iv) {
			return ErrOverlap
		}
		m.index.Add(r.AccommodationID, r.ID, iv)
	}
	cp := *r
	m.reservations[r.ID] = &cp
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, id uuid.UUID) (*db.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryLedger) Transition(_ context.Context, id uuid.UUID, from []db.ReservationState, to db.ReservationState, reason string, at time.Time) (*db.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsState(from, r.State) {
		return nil, ErrStateConflict
	}
	prev := r.State
	m.apply(r, to, at)
	if reason != "" {
		r.CancellationReason = reason
	}
	if prev == db.StateConfirmed && to == db.StateCancelled {
		if p, ok := m.payments[r.ID]; ok && p.State == db.PaymentApproved {
			p.State = db.PaymentRefunded
			p.ProcessedAt = at
		}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryLedger) Settle(_ context.Context, id uuid.UUID, p *db.Payment, to db.ReservationState, at time.Time) (*db.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.State != db.StatePendingPayment {
		return nil, ErrStateConflict
	}
	pay := *p
	m.payments[r.ID] = &pay
	r.PaymentID = &pay.ID
	m.apply(r, to, at)
	cp := *r
	return &cp, nil
}

// apply writes the new state and keeps the index in step with it.
func (m *MemoryLedger) apply(r *db.Reservation, to db.ReservationState, at time.Time) {
	if r.State.IsActive() && !to.IsActive() {
		m.index.Remove(r.AccommodationID, r.ID)
	}
	r.State = to
	r.UpdatedAt = at
}

func (m *MemoryLedger) ListDue(_ context.Context, now, pendingBefore time.Time) ([]db.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []db.Reservation
	for _, r := range m.reservations {
		if !r.State.IsActive() {
			continue
		}
		if r.Checkout.Before(now) || (r.State == db.StatePendingPayment && r.CreatedAt.Before(pendingBefore)) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryLedger) PaymentFor(_ context.Context, reservationID uuid.UUID) (*db.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[reservationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// All returns a snapshot of every reservation.
func (m *MemoryLedger) All() []db.Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Reservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		out = append(out, *r)
	}
	return out
}

type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[int64]db.Accommodation
}

func NewMemoryCatalog(items ...db.Accommodation) *MemoryCatalog {
	c := &MemoryCatalog{items: make(map[int64]db.Accommodation)}
	for _, a := range items {
		c.items[a.ID] = a
	}
	return c
}

func (c *MemoryCatalog) Put(a db.Accommodation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[a.ID] = a
}

func (c *MemoryCatalog) Get(_ context.Context, id int64) (*db.Accommodation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

type MemoryUsers struct {
	mu    sync.RWMutex
	users map[int64]db.User
}

func NewMemoryUsers(users ...db.User) *MemoryUsers {
	d := &MemoryUsers{users: make(map[int64]db.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *MemoryUsers) Put(u db.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryUsers) Get(_ context.Context, id int64) (*db.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (d *MemoryUsers) FindByEmail(_ context.Context, email string) (*db.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

type MemoryRecoveryCodes struct {
	mu    sync.Mutex
	codes map[uuid.UUID]db.RecoveryCode
}

func NewMemoryRecoveryCodes() *MemoryRecoveryCodes {
	return &MemoryRecoveryCodes{codes: make(map[uuid.UUID]db.RecoveryCode)}
}

func (s *MemoryRecoveryCodes) Insert(_ context.Context, c *db.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Code = ""
	s.codes[c.ID] = cp
	return nil
}

func (s *MemoryRecoveryCodes) ListByUser(_ context.Context, userID int64) ([]db.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.RecoveryCode
	for _, c := range s.codes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryRecoveryCodes) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[id]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	s.codes[id] = c
	return true, nil
}

func (s *MemoryRecoveryCodes) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.codes {
		if c.ExpiresAt.Before(before) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}
