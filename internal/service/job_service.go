package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"lodging/internal/clock"
	"lodging/internal/config"
	"lodging/internal/db"
	"lodging/internal/entities"
	"lodging/internal/lock"
	"lodging/internal/repository"
)

type SweepReport struct {
	Completed int
	Cancelled int
	Skipped   int
	Failed    int
}

// JobService runs the expiration sweep and other housekeeping on a cron
// schedule.
type JobService struct {
	ledger     repository.ReservationLedger
	locker     lock.Locker
	clock      clock.Clock
	events     EventDispatcher
	log        logrus.FieldLogger
	paymentTTL time.Duration
	cron       *cron.Cron

	Backoff  BackOffPolicy
	LockWait time.Duration
}

func NewJobService(ledger repository.ReservationLedger, locker lock.Locker, clk clock.Clock, events EventDispatcher, paymentTTL time.Duration, log logrus.FieldLogger) *JobService {
	if events == nil {
		events = Dispatchers{}
	}
	return &JobService{
		ledger:     ledger,
		locker:     locker,
		clock:      clk,
		events:     events,
		log:        log,
		paymentTTL: paymentTTL,
		Backoff:    DefaultBackOff,
		LockWait:   DefaultLockWait,
	}
}

// Sweep completes reservations past checkout and cancels reservations whose
// payment window closed before now. Each reservation is transitioned on its
// own; a failure is logged and left for the next run.
func (s *JobService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	due, err := withRetry(ctx, s.Backoff, func() ([]db.Reservation, error) {
		return s.ledger.ListDue(ctx, now, now.Add(-s.paymentTTL))
	})
	if err != nil {
		return report, internal("list due reservations", err)
	}

	for i := range due {
		r := &due[i]
		to, from, kind := s.target(r, now)
		if to == "" {
			report.Skipped++
			continue
		}
		updated, err := s.transition(ctx, r, from, to, now)
		log := s.log.WithFields(logrus.Fields{
			"reservation_id":   r.ID,
			"accommodation_id": r.AccommodationID,
			"target_state":     to,
		})
		switch {
		case errors.Is(err, repository.ErrStateConflict), errors.Is(err, repository.ErrNotFound):
			report.Skipped++
			continue
		case err != nil:
			report.Failed++
			log.WithError(err).Warn("sweep transition failed, retrying next run")
			continue
		}
		if to == db.StateCompleted {
			report.Completed++
		} else {
			report.Cancelled++
		}
		log.Info("reservation swept")
		s.events.Dispatch(ctx, newEvent(kind, updated, now))
	}

	if report.Completed+report.Cancelled+report.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"completed": report.Completed,
			"cancelled": report.Cancelled,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
		}).Info("sweep finished")
	}
	return report, nil
}

// target picks the transition for a due reservation. Completion takes
// precedence over payment expiry.
func (s *JobService) target(r *db.Reservation, now time.Time) (db.ReservationState, []db.ReservationState, string) {
	if r.State.IsActive() && r.Checkout.Before(now) {
		return db.StateCompleted, []db.ReservationState{db.StatePendingPayment, db.StateConfirmed}, entities.EventReservationCompleted
	}
	if r.State == db.StatePendingPayment && r.CreatedAt.Add(s.paymentTTL).Before(now) {
		return db.StateCancelled, []db.ReservationState{db.StatePendingPayment}, entities.EventReservationCancelled
	}
	return "", nil, ""
}

func (s *JobService) transition(ctx context.Context, r *db.Reservation, from []db.ReservationState, to db.ReservationState, now time.Time) (*db.Reservation, error) {
	unlock, err := acquire(ctx, s.locker, lock.AccommodationKey(r.AccommodationID), s.LockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reason := ""
	if to == db.StateCancelled {
		reason = "payment window expired"
	}
	return withRetry(ctx, s.Backoff, func() (*db.Reservation, error) {
		return s.ledger.Transition(ctx, r.ID, from, to, reason, now)
	})
}

// Start schedules the sweep and any extra housekeeping jobs.
func (s *JobService) Start(schedule string, jobs map[string]func(context.Context) error) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.log)),
	))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background(), s.clock.Now()); err != nil {
			config.LogError(s.log, "jobs", "Sweep", nil, err)
		}
	}); err != nil {
		return err
	}
	for name, job := range jobs {
		name, job := name, job
		if _, err := c.AddFunc(schedule, func() {
			if err := job(context.Background()); err != nil {
				config.LogError(s.log, "jobs", name, nil, err)
			}
		}); err != nil {
			return err
		}
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", schedule).Info("scheduler started")
	return nil
}

// Stop prevents new runs and waits for a run in progress to finish.
func (s *JobService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
