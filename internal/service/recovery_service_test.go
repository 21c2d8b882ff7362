package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"lodging/internal/clock"
	"lodging/internal/db"
	apperr "lodging/internal/errors"
	"lodging/internal/lock"
	"lodging/internal/repository"
)

type recordingMailer struct {
	mu    sync.Mutex
	codes []string
}

func (m *recordingMailer) SendRecoveryCode(_ context.Context, _ db.User, code string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
}

type recoveryFixture struct {
	clock  *clock.Manual
	codes  *repository.MemoryRecoveryCodes
	mailer *recordingMailer
	svc    *RecoveryService
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	f := &recoveryFixture{
		clock:  clock.NewManual(testNow),
		codes:  repository.NewMemoryRecoveryCodes(),
		mailer: &recordingMailer{},
	}
	users := repository.NewMemoryUsers(
		db.User{ID: guestID, Email: "guest@example.com", Name: "Guest", Active: true},
		db.User{ID: otherID, Email: "gone@example.com", Name: "Gone", Active: false},
	)
	f.svc = NewRecoveryService(f.codes, users, lock.NewLocal(), f.clock, f.mailer, RecoveryConfig{
		TTL:        15 * time.Minute,
		MaxActive:  3,
		Cooldown:   time.Minute,
		CodeLength: 8,
		HashCost:   bcrypt.MinCost,
	}, nullLogger())
	f.svc.Backoff = noBackOff
	return f
}

func (f *recoveryFixture) request(t *testing.T) *db.RecoveryCode {
	t.Helper()
	c, err := f.svc.Request(context.Background(), "guest@example.com")
	require.NoError(t, err)
	return c
}

func TestRecovery_RequestIssuesCode(t *testing.T) {
	f := newRecoveryFixture(t)
	c := f.request(t)

	assert.Len(t, c.Code, 8)
	assert.Regexp(t, "^[A-Z0-9]+$", c.Code)
	assert.Equal(t, testNow.Add(15*time.Minute), c.ExpiresAt)
	assert.Equal(t, []string{c.Code}, f.mailer.codes)

	stored, err := f.codes.ListByUser(context.Background(), guestID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Empty(t, stored[0].Code)
	assert.NotEqual(t, c.Code, stored[0].CodeHash)
}

func TestRecovery_RateLimitedAtMaxActive(t *testing.T) {
	f := newRecoveryFixture(t)
	for i := 0; i < 3; i++ {
		f.request(t)
		f.clock.Advance(2 * time.Minute)
	}

	_, err := f.svc.Request(context.Background(), "guest@example.com")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	// once the oldest code expires the user may ask again
	f.clock.Advance(10 * time.Minute)
	f.request(t)
}

func TestRecovery_Cooldown(t *testing.T) {
	f := newRecoveryFixture(t)
	f.request(t)

	f.clock.Advance(30 * time.Second)
	_, err := f.svc.Request(context.Background(), "guest@example.com")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	f.clock.Advance(31 * time.Second)
	f.request(t)
}

func requestConcurrently(svc *RecoveryService, n int) int {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Request(context.Background(), "guest@example.com")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return wins
}

func TestRecovery_ConcurrentRequestsRespectLimit(t *testing.T) {
	f := newRecoveryFixture(t)
	f.svc.cfg.Cooldown = 0
	assert.Equal(t, 3, requestConcurrently(f.svc, 10))
}

// slowCodes widens the window between counting a user's codes and inserting
// a new one, as a database round trip would.
type slowCodes struct {
	*repository.MemoryRecoveryCodes
}

func (s slowCodes) ListByUser(ctx context.Context, userID int64) ([]db.RecoveryCode, error) {
	codes, err := s.MemoryRecoveryCodes.ListByUser(ctx, userID)
	time.Sleep(5 * time.Millisecond)
	return codes, err
}

func TestRecovery_ConcurrentRequestsWithConstraintLocker(t *testing.T) {
	codes := repository.NewMemoryRecoveryCodes()
	users := repository.NewMemoryUsers(db.User{ID: guestID, Email: "guest@example.com", Active: true})
	svc := NewRecoveryService(slowCodes{codes}, users, lock.None{}, clock.NewManual(testNow), nil, RecoveryConfig{
		TTL:        15 * time.Minute,
		MaxActive:  3,
		CodeLength: 8,
		HashCost:   bcrypt.MinCost,
	}, nullLogger())
	svc.Backoff = noBackOff

	assert.Equal(t, 3, requestConcurrently(svc, 10))
	stored, err := codes.ListByUser(context.Background(), guestID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestRecovery_UnknownOrInactiveUser(t *testing.T) {
	f := newRecoveryFixture(t)
	_, err := f.svc.Request(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	_, err = f.svc.Request(context.Background(), "gone@example.com")
	assert.ErrorIs(t, err, apperr.ErrUserInactive)
}

func TestRecovery_Validate(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c := f.request(t)

	ok, err := f.svc.Validate(ctx, guestID, c.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Validate(ctx, otherID, c.Code)
	require.NoError(t, err)
	assert.False(t, ok, "code belongs to another user")

	ok, err = f.svc.Validate(ctx, guestID, "WRONG123")
	require.NoError(t, err)
	assert.False(t, ok)

	// validate has no side effects
	ok, err = f.svc.Validate(ctx, guestID, c.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(15 * time.Minute)
	ok, err = f.svc.Validate(ctx, guestID, c.Code)
	require.NoError(t, err)
	assert.False(t, ok, "expired at exactly expiresAt")
}

func TestRecovery_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("once", func(t *testing.T) {
		f := newRecoveryFixture(t)
		c := f.request(t)
		require.NoError(t, f.svc.Consume(ctx, guestID, c.Code))
		assert.ErrorIs(t, f.svc.Consume(ctx, guestID, c.Code), apperr.ErrCodeAlreadyUsed)

		ok, err := f.svc.Validate(ctx, guestID, c.Code)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		f := newRecoveryFixture(t)
		c := f.request(t)
		f.clock.Advance(16 * time.Minute)
		assert.ErrorIs(t, f.svc.Consume(ctx, guestID, c.Code), apperr.ErrCodeExpired)
	})

	t.Run("unknown", func(t *testing.T) {
		f := newRecoveryFixture(t)
		f.request(t)
		assert.ErrorIs(t, f.svc.Consume(ctx, guestID, "NOPE1234"), apperr.ErrCodeNotFound)
	})

	t.Run("concurrent consumers", func(t *testing.T) {
		f := newRecoveryFixture(t)
		c := f.request(t)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := f.svc.Consume(ctx, guestID, c.Code)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, apperr.ErrCodeAlreadyUsed), err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestRecovery_CleanupExpired(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c := f.request(t)

	f.clock.Advance(20 * time.Minute)
	n, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "recently expired codes are kept")
	assert.ErrorIs(t, f.svc.Consume(ctx, guestID, c.Code), apperr.ErrCodeExpired)

	f.clock.Advance(25 * time.Hour)
	n, err = f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
