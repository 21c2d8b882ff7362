package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"

	"lodging/internal/db"
)

const MetadataReservationID = "reservation_id"

// ErrGatewayUnavailable is returned while the Stripe circuit is open.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type StripeConfig struct {
	SuccessURL string
	CancelURL  string
	Currency   string
}

// StripeService talks to Stripe through a circuit breaker so a failing gateway
// does not stall request handlers.
type StripeService struct {
	cfg     StripeConfig
	breaker *gobreaker.CircuitBreaker[any]
	log     logrus.FieldLogger

	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newRefund  func(*stripe.RefundParams) (*stripe.Refund, error)
}

func NewStripeService(cfg StripeConfig, log logrus.FieldLogger) *StripeService {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return &StripeService{
		cfg:        cfg,
		breaker:    breaker,
		log:        log,
		newSession: session.New,
		newRefund:  refund.New,
	}
}

// CreateCheckoutSession opens a hosted checkout for the reservation's total.
// The reservation id travels in the session metadata so the webhook can
// settle it.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, r *db.Reservation, customerEmail string) (url, sessionID string, err error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(s.cfg.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Stay at accommodation %d", r.AccommodationID)),
					},
					UnitAmount: stripe.Int64(MinorUnits(r.TotalPrice, s.cfg.Currency)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cfg.CancelURL + "?session_id={CHECKOUT_SESSION_ID}"),
		ClientReferenceID: stripe.String(r.ID.String()),
	}
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	params.Context = ctx
	params.AddMetadata(MetadataReservationID, r.ID.String())

	out, err := s.breaker.Execute(func() (any, error) {
		return s.newSession(params)
	})
	if err != nil {
		return "", "", s.gatewayErr("create checkout session", err)
	}
	sess := out.(*stripe.CheckoutSession)
	return sess.URL, sess.ID, nil
}

// Refund returns the full amount of a payment intent.
func (s *StripeService) Refund(ctx context.Context, paymentIntentID string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	_, err := s.breaker.Execute(func() (any, error) {
		return s.newRefund(params)
	})
	if err != nil {
		return s.gatewayErr("refund", err)
	}
	s.log.WithField("payment_intent", paymentIntentID).Info("refund issued")
	return nil
}

func (s *StripeService) gatewayErr(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", op, ErrGatewayUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Stripe amounts are integers in the currency's smallest unit. Most
// currencies have two decimals; these are the exceptions Stripe lists.
var (
	zeroDecimalCurrencies = map[string]bool{
		"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
		"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
		"vuv": true, "xaf": true, "xof": true, "xpf": true,
	}
	threeDecimalCurrencies = map[string]bool{
		"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
	}
)

func currencyExponent(currency string) int32 {
	c := strings.ToLower(currency)
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	default:
		return 2
	}
}

// MinorUnits converts amount to the currency's smallest unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(n int64, currency string) decimal.Decimal {
	return decimal.New(n, -currencyExponent(currency))
}
