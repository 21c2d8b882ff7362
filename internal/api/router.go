package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"lodging/internal/auth"
)

type Handlers struct {
	Reservations *ReservationHandler
	Payments     *PaymentHandler
	Stripe       *StripeWebhookHandler
	Recovery     *RecoveryHandler
	Admin        *AdminHandler
}

// NewRouter mounts every endpoint. Reservation routes need a bearer token;
// settle and sweep additionally need the admin flag.
func NewRouter(h Handlers, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	authn := auth.Middleware(jwtSecret)

	// Public endpoints
	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.HandleFunc("/api/availability", h.Reservations.CheckAvailability).Methods(http.MethodPost)
	r.HandleFunc("/api/recovery-codes", h.Recovery.RequestCode).Methods(http.MethodPost)
	r.HandleFunc("/api/recovery-codes/validate", h.Recovery.ValidateCode).Methods(http.MethodPost)
	r.HandleFunc("/api/recovery-codes/consume", h.Recovery.ConsumeCode).Methods(http.MethodPost)
	if h.Stripe != nil {
		r.HandleFunc("/api/stripe/webhook", h.Stripe.HandleWebhook).Methods(http.MethodPost)
	}

	reservations := r.PathPrefix("/api/reservations").Subrouter()
	reservations.Use(authn)
	reservations.HandleFunc("", h.Reservations.CreateReservation).Methods(http.MethodPost)
	reservations.HandleFunc("/{id}", h.Reservations.GetReservation).Methods(http.MethodGet)
	reservations.HandleFunc("/{id}/cancel", h.Reservations.CancelReservation).Methods(http.MethodPost)

	// Admin endpoints (protected)
	payments := r.PathPrefix("/api/payments").Subrouter()
	payments.Use(authn, auth.RequireAdmin)
	payments.HandleFunc("/settle", h.Payments.Settle).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(authn, auth.RequireAdmin)
	admin.HandleFunc("/sweep", h.Admin.Sweep).Methods(http.MethodPost)

	return r
}
