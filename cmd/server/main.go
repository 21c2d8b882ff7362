package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/twilio/twilio-go"

	"lodging/internal/api"
	"lodging/internal/clock"
	"lodging/internal/config"
	"lodging/internal/lock"
	"lodging/internal/publisher"
	"lodging/internal/repository"
	"lodging/internal/service"
)

const redisLockTTL = 30 * time.Second

type stores struct {
	ledger   repository.ReservationLedger
	catalog  repository.AccommodationCatalog
	users    repository.UserDirectory
	recovery repository.RecoveryCodeStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	logger := config.NewLogger(cfg.LogLevel)
	clk := clock.System()

	st, closeDB := openStores(cfg, logger)
	defer closeDB()

	locker, recoveryLocker, closeLocker := newLockers(cfg, logger)
	defer closeLocker()

	sender := newSender(cfg, st.users, logger)

	dispatchers := service.Dispatchers{sender}
	var events *publisher.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		events = publisher.NewEventPublisher(publisher.NewKafkaWriter(cfg.KafkaTopic, logger, cfg.KafkaBrokers...), logger)
		dispatchers = append(dispatchers, events)
	}

	var stripeSvc *service.StripeService
	var refunder service.Refunder
	var checkout api.CheckoutCreator
	if cfg.Stripe.SecretKey != "" {
		stripe.Key = cfg.Stripe.SecretKey
		stripeSvc = service.NewStripeService(service.StripeConfig{
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			Currency:   cfg.Stripe.Currency,
		}, logger)
		refunder, checkout = stripeSvc, stripeSvc
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout sessions and refunds disabled")
	}

	booking := service.NewBookingService(st.ledger, st.catalog, locker, clk, dispatchers, refunder, logger)
	payments := service.NewPaymentService(st.ledger, locker, clk, dispatchers, logger)
	jobs := service.NewJobService(st.ledger, locker, clk, dispatchers, cfg.PaymentTTL, logger)
	recovery := service.NewRecoveryService(st.recovery, st.users, recoveryLocker, clk, sender, service.RecoveryConfig{
		TTL:        cfg.Recovery.TTL,
		MaxActive:  cfg.Recovery.MaxActive,
		Cooldown:   cfg.Recovery.Cooldown,
		CodeLength: cfg.Recovery.CodeLength,
	}, logger)

	h := api.Handlers{
		Reservations: api.NewReservationHandler(booking, checkout, logger),
		Payments:     api.NewPaymentHandler(payments, logger),
		Recovery:     api.NewRecoveryHandler(recovery, logger),
		Admin:        api.NewAdminHandler(jobs, clk, logger),
	}
	if cfg.Stripe.WebhookSecret != "" {
		h.Stripe = api.NewStripeWebhookHandler(cfg.Stripe.WebhookSecret, payments, logger)
	}
	r := api.NewRouter(h, cfg.JWTSecret)

	if err := jobs.Start(cfg.SweepSchedule, map[string]func(context.Context) error{
		"recovery-cleanup": func(ctx context.Context) error {
			n, err := recovery.CleanupExpired(ctx)
			if n > 0 {
				logger.WithField("deleted", n).Info("expired recovery codes removed")
			}
			return err
		},
	}); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Stripe-Signature"}),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handlers.CombinedLoggingHandler(logger.Writer(), cors(r))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	jobs.Stop()
	sender.Wait()
	if events != nil {
		if err := events.Close(); err != nil {
			logger.WithError(err).Error("close event publisher")
		}
	}
	logger.Info("Server stopped")
}

// openStores uses Postgres when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(cfg config.App, logger *logrus.Logger) (stores, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		return stores{
			ledger:   repository.NewMemoryLedger(),
			catalog:  repository.NewMemoryCatalog(),
			users:    repository.NewMemoryUsers(),
			recovery: repository.NewMemoryRecoveryCodes(),
		}, func() {}
	}

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to DB: %v", err)
	}
	if err := repository.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	return postgresStores(db), func() { db.Close() }
}

func postgresStores(db *sql.DB) stores {
	return stores{
		ledger:   repository.NewReservationRepository(db),
		catalog:  repository.NewCatalogRepository(db),
		users:    repository.NewUserRepository(db),
		recovery: repository.NewRecoveryCodeRepository(db),
	}
}

// newLockers returns the booking locker and the per-user recovery locker.
// The constraint strategy only covers bookings; recovery codes still need a
// real lock, shared through Redis when it is configured.
func newLockers(cfg config.App, logger *logrus.Logger) (booking, recovery lock.Locker, closeFn func()) {
	var rdb *redis.Client
	closeFn = func() {}
	if cfg.RedisAddr != "" && cfg.LockStrategy != config.LockLocal {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		closeFn = func() { rdb.Close() }
	}

	switch cfg.LockStrategy {
	case config.LockRedis:
		l := lock.NewRedis(rdb, redisLockTTL)
		return l, l, closeFn
	case config.LockConstraint:
		if rdb != nil {
			return lock.None{}, lock.NewRedis(rdb, redisLockTTL), closeFn
		}
		logger.Warn("REDIS_ADDR not set, recovery codes are locked per process")
		return lock.None{}, lock.NewLocal(), closeFn
	default:
		l := lock.NewLocal()
		return l, l, closeFn
	}
}

func newSender(cfg config.App, users repository.UserDirectory, logger *logrus.Logger) *service.SenderService {
	var email service.EmailClient
	if cfg.Notify.SendgridAPIKey != "" {
		email = sendgrid.NewSendClient(cfg.Notify.SendgridAPIKey)
	}
	var sms service.SMSClient
	if cfg.Notify.TwilioSID != "" {
		sms = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Notify.TwilioSID,
			Password: cfg.Notify.TwilioToken,
		}).Api
	}
	return service.NewSenderService(email, sms, users, service.SenderConfig{
		FromEmail:  cfg.Notify.FromEmail,
		FromName:   cfg.Notify.FromName,
		FromNumber: cfg.Notify.TwilioFrom,
	}, logger)
}
