package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"lodging/internal/clock"
	"lodging/internal/db"
	apperr "lodging/internal/errors"
	"lodging/internal/lock"
	"lodging/internal/repository"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// expiredRetention keeps expired codes around long enough that consume keeps
// reporting them as expired rather than unknown.
const expiredRetention = 24 * time.Hour

type RecoveryConfig struct {
	TTL        time.Duration
	MaxActive  int
	Cooldown   time.Duration
	CodeLength int
	HashCost   int
}

// CodeMailer delivers a freshly issued recovery code to its owner.
type CodeMailer interface {
	SendRecoveryCode(ctx context.Context, user db.User, code string, expiresAt time.Time)
}

// RecoveryService issues and checks one-time password recovery codes. Only a
// bcrypt hash of each code is stored.
type RecoveryService struct {
	codes  repository.RecoveryCodeStore
	users  repository.UserDirectory
	locker lock.Locker
	clock  clock.Clock
	mailer CodeMailer
	cfg    RecoveryConfig
	log    logrus.FieldLogger

	Backoff  BackOffPolicy
	LockWait time.Duration
}

func NewRecoveryService(codes repository.RecoveryCodeStore, users repository.UserDirectory, locker lock.Locker, clk clock.Clock, mailer CodeMailer, cfg RecoveryConfig, log logrus.FieldLogger) *RecoveryService {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	if cfg.CodeLength < 6 || cfg.CodeLength > 10 {
		cfg.CodeLength = 8
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	// no table constraint caps active codes, so the per-user count and insert
	// always need a real lock
	return &RecoveryService{
		codes:    codes,
		users:    users,
		locker:   lock.Exclusive(locker),
		clock:    clk,
		mailer:   mailer,
		cfg:      cfg,
		log:      log,
		Backoff:  DefaultBackOff,
		LockWait: DefaultLockWait,
	}
}

// Request issues a new code for the user owning email. The returned code is
// the only place the plain value exists.
func (s *RecoveryService) Request(ctx context.Context, email string) (*db.RecoveryCode, error) {
	user, err := withRetry(ctx, s.Backoff, func() (*db.User, error) {
		return s.users.FindByEmail(ctx, email)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, internal("find user", err)
	}
	if !user.Active {
		return nil, apperr.ErrUserInactive
	}

	unlock, err := acquire(ctx, s.locker, lock.RecoveryKey(user.ID), s.LockWait)
	if err != nil {
		return nil, err
	}
	code, err := s.issue(ctx, user.ID)
	unlock()
	if err != nil {
		return nil, err
	}

	s.log.WithField("user_id", user.ID).Info("recovery code issued")
	if s.mailer != nil {
		s.mailer.SendRecoveryCode(ctx, *user, code.Code, code.ExpiresAt)
	}
	return code, nil
}

// issue counts the user's live codes and inserts a new one. The caller holds
// the user's lock.
func (s *RecoveryService) issue(ctx context.Context, userID int64) (*db.RecoveryCode, error) {
	now := s.clock.Now()
	existing, err := withRetry(ctx, s.Backoff, func() ([]db.RecoveryCode, error) {
		return s.codes.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, internal("list recovery codes", err)
	}

	active := 0
	for _, c := range existing {
		if c.Usable(now) {
			active++
		}
		if s.cfg.Cooldown > 0 && now.Sub(c.CreatedAt) < s.cfg.Cooldown {
			return nil, apperr.ErrRateLimited
		}
	}
	if active >= s.cfg.MaxActive {
		return nil, apperr.ErrRateLimited
	}

	plain, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, internal("generate recovery code", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cfg.HashCost)
	if err != nil {
		return nil, internal("hash recovery code", err)
	}
	code := &db.RecoveryCode{
		ID:        uuid.New(),
		UserID:    userID,
		Code:      plain,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if _, err := withRetry(ctx, s.Backoff, func() (struct{}, error) {
		return struct{}{}, s.codes.Insert(ctx, code)
	}); err != nil {
		return nil, internal("insert recovery code", err)
	}
	return code, nil
}

// Validate reports whether code is a live code of the user. It changes
// nothing.
func (s *RecoveryService) Validate(ctx context.Context, userID int64, code string) (bool, error) {
	now := s.clock.Now()
	codes, err := withRetry(ctx, s.Backoff, func() ([]db.RecoveryCode, error) {
		return s.codes.ListByUser(ctx, userID)
	})
	if err != nil {
		return false, internal("list recovery codes", err)
	}
	for _, c := range codes {
		if c.Usable(now) && matches(c, code) {
			return true, nil
		}
	}
	return false, nil
}

// Consume marks a live code used. The lookup and the flag flip happen under
// the user's lock, and the flip itself only succeeds once.
func (s *RecoveryService) Consume(ctx context.Context, userID int64, code string) error {
	unlock, err := acquire(ctx, s.locker, lock.RecoveryKey(userID), s.LockWait)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.clock.Now()
	codes, err := withRetry(ctx, s.Backoff, func() ([]db.RecoveryCode, error) {
		return s.codes.ListByUser(ctx, userID)
	})
	if err != nil {
		return internal("list recovery codes", err)
	}

	var found *db.RecoveryCode
	for i := range codes {
		c := &codes[i]
		if !matches(*c, code) {
			continue
		}
		if c.Usable(now) {
			found = c
			break
		}
		if found == nil {
			found = c
		}
	}
	switch {
	case found == nil:
		return apperr.ErrCodeNotFound
	case found.Used:
		return apperr.ErrCodeAlreadyUsed
	case !now.Before(found.ExpiresAt):
		return apperr.ErrCodeExpired
	}

	ok, err := withRetry(ctx, s.Backoff, func() (bool, error) {
		return s.codes.MarkUsed(ctx, found.ID)
	})
	if err != nil {
		return internal("mark recovery code used", err)
	}
	if !ok {
		return apperr.ErrCodeAlreadyUsed
	}
	s.log.WithField("user_id", userID).Info("recovery code consumed")
	return nil
}

// CleanupExpired drops codes that expired more than a day ago. Codes inside
// that window still answer consume with ErrCodeExpired.
func (s *RecoveryService) CleanupExpired(ctx context.Context) (int64, error) {
	before := s.clock.Now().Add(-expiredRetention)
	n, err := withRetry(ctx, s.Backoff, func() (int64, error) {
		return s.codes.DeleteExpired(ctx, before)
	})
	if err != nil {
		return 0, internal("delete expired recovery codes", err)
	}
	if n > 0 {
		s.log.WithField("deleted", n).Info("expired recovery codes removed")
	}
	return n, nil
}

func matches(c db.RecoveryCode, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) == nil
}

func generateCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
