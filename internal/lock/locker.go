package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotObtained is returned when a lock could not be acquired before the
// context ended.
var ErrNotObtained = errors.New("could not obtain lock")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker provides mutual exclusion per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func AccommodationKey(accommodationID int64) string {
	return fmt.Sprintf("lock:accommodation:%d", accommodationID)
}

func RecoveryKey(userID int64) string {
	return fmt.Sprintf("lock:recovery:%d", userID)
}

// Local is an in-process keyed lock. Slots are created on demand and dropped
// once no goroutine holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
	}
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// None never blocks. It is used when the storage layer enforces exclusion
// itself (serializable writes guarded by an exclusion constraint).
type None struct{}

func (None) Lock(context.Context, string) (Unlock, error) {
	return func() {}, nil
}

// Exclusive returns l, or a process-local lock when l is None. Callers whose
// critical section has no storage constraint behind it use this.
func Exclusive(l Locker) Locker {
	if _, ok := l.(None); ok || l == nil {
		return NewLocal()
	}
	return l
}
