package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"lodging/internal/config"
	"lodging/internal/db"
	apperr "lodging/internal/errors"
	"lodging/internal/service"
)

const (
	eventSessionCompleted    = "checkout.session.completed"
	eventAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	eventAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	eventSessionExpired      = "checkout.session.expired"

	methodStripe = "stripe_checkout"
)

type StripeWebhookHandler struct {
	secret  string
	settler Settler
	log     logrus.FieldLogger
}

func NewStripeWebhookHandler(secret string, settler Settler, log logrus.FieldLogger) *StripeWebhookHandler {
	return &StripeWebhookHandler{secret: secret, settler: settler, log: log}
}

// HandleWebhook turns checkout session events into settle calls. Stripe
// retries on any non-2xx answer, so only failures worth retrying get one.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.WithError(err).Warn("error reading webhook body")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		h.log.WithError(err).Warn("webhook signature verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	log := h.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	var outcome db.Outcome
	switch event.Type {
	case eventSessionCompleted, eventAsyncPaymentSuccess:
		outcome = db.OutcomeApproved
	case eventSessionExpired, eventAsyncPaymentFailed:
		outcome = db.OutcomeRejected
	default:
		log.Debug("ignoring webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		log.WithError(err).Warn("error parsing checkout session")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// async methods complete the session before the money moves
	if event.Type == eventSessionCompleted && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.WithField("session_id", sess.ID).Info("checkout completed, awaiting async payment")
		w.WriteHeader(http.StatusOK)
		return
	}

	id, err := uuid.Parse(sess.Metadata[service.MetadataReservationID])
	if err != nil {
		log.WithField("session_id", sess.ID).Warn("checkout session without reservation id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req := service.SettleRequest{
		ReservationID: id,
		Outcome:       outcome,
		Amount:        service.FromMinorUnits(sess.AmountTotal, string(sess.Currency)),
		Method:        methodStripe,
		GatewayRef:    sess.ID,
	}
	if sess.PaymentIntent != nil {
		req.GatewayRef = sess.PaymentIntent.ID
	}

	res, err := h.settler.Settle(r.Context(), req)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"reservation_id": res.ID, "state": res.State}).Info("payment settled")
	case errors.Is(err, apperr.ErrReservationNotPending):
		log.WithField("reservation_id", id).Info("reservation already settled, acknowledging replay")
	case apperr.KindOf(err) != apperr.KindInternal && apperr.KindOf(err) != apperr.KindTransient:
		// retrying cannot change the verdict
		config.LogError(log, "stripe_webhook", "Settle", logrus.Fields{"reservation_id": id, "retry": false}, err)
	default:
		config.LogError(log, "stripe_webhook", "Settle", logrus.Fields{"reservation_id": id, "retry": true}, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
