package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LockLocal      = "local"
	LockRedis      = "redis"
	LockConstraint = "constraint"
)

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

type Notify struct {
	SendgridAPIKey string
	FromEmail      string
	FromName       string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
}

type Recovery struct {
	TTL        time.Duration
	MaxActive  int
	Cooldown   time.Duration
	CodeLength int
}

type App struct {
	Port          string
	DatabaseURL   string
	RedisAddr     string
	LockStrategy  string
	JWTSecret     string
	LogLevel      string
	KafkaBrokers  []string
	KafkaTopic    string
	PaymentTTL    time.Duration
	SweepSchedule string
	Stripe        Stripe
	Notify        Notify
	Recovery      Recovery
}

// Load reads .env (if present) and then the process environment.
func Load() (App, error) {
	_ = godotenv.Load()

	cfg := App{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		LockStrategy:  strings.ToLower(getenv("LOCK_STRATEGY", LockLocal)),
		JWTSecret:     getenv("JWT_SECRET", "local_dev_secret"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getenv("KAFKA_TOPIC", "reservations"),
		SweepSchedule: getenv("SWEEP_SCHEDULE", "@every 1m"),
		Stripe: Stripe{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    getenv("STRIPE_SUCCESS_URL", "http://localhost:3000/reservations/success"),
			CancelURL:     getenv("STRIPE_CANCEL_URL", "http://localhost:3000/reservations/cancel"),
			Currency:      strings.ToLower(getenv("CURRENCY", "usd")),
		},
		Notify: Notify{
			SendgridAPIKey: os.Getenv("SENDGRID_API_KEY"),
			FromEmail:      os.Getenv("SENDGRID_FROM_EMAIL"),
			FromName:       getenv("SENDGRID_FROM_NAME", "Reservations"),
			TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
			TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
			TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		},
	}

	var err error
	if cfg.PaymentTTL, err = durationEnv("PAYMENT_TTL", 30*time.Minute); err != nil {
		return App{}, err
	}
	if cfg.Recovery.TTL, err = durationEnv("RECOVERY_CODE_TTL", 15*time.Minute); err != nil {
		return App{}, err
	}
	if cfg.Recovery.Cooldown, err = durationEnv("RECOVERY_COOLDOWN", time.Minute); err != nil {
		return App{}, err
	}
	if cfg.Recovery.MaxActive, err = intEnv("RECOVERY_MAX_ACTIVE", 3); err != nil {
		return App{}, err
	}
	if cfg.Recovery.CodeLength, err = intEnv("RECOVERY_CODE_LENGTH", 8); err != nil {
		return App{}, err
	}
	cfg.Recovery.CodeLength = clamp(cfg.Recovery.CodeLength, 6, 10)

	switch cfg.LockStrategy {
	case LockLocal, LockConstraint:
	case LockRedis:
		if cfg.RedisAddr == "" {
			return App{}, fmt.Errorf("LOCK_STRATEGY=redis requires REDIS_ADDR")
		}
	default:
		return App{}, fmt.Errorf("unknown LOCK_STRATEGY %q", cfg.LockStrategy)
	}
	if cfg.LockStrategy == LockConstraint && cfg.DatabaseURL == "" {
		return App{}, fmt.Errorf("LOCK_STRATEGY=constraint requires DATABASE_URL")
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", k, v)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", k, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
