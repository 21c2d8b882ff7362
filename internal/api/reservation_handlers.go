package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lodging/internal/auth"
	"lodging/internal/db"
	"lodging/internal/entities"
	apperr "lodging/internal/errors"
	"lodging/internal/service"
	"lodging/internal/utils"
)

type Booking interface {
	Create(ctx context.Context, req service.CreateRequest) (*db.Reservation, error)
	Cancel(ctx context.Context, actor db.Actor, id uuid.UUID, reason string) (*db.Reservation, error)
	Get(ctx context.Context, actor db.Actor, id uuid.UUID) (*db.Reservation, error)
	CheckAvailability(ctx context.Context, accommodationID int64, checkin, checkout time.Time) (bool, error)
}

// CheckoutCreator opens a payment page for a new reservation.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, r *db.Reservation, customerEmail string) (url, sessionID string, err error)
}

type ReservationHandler struct {
	booking  Booking
	checkout CheckoutCreator
	log      logrus.FieldLogger
}

func NewReservationHandler(booking Booking, checkout CheckoutCreator, log logrus.FieldLogger) *ReservationHandler {
	return &ReservationHandler{booking: booking, checkout: checkout, log: log}
}

func (h *ReservationHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req entities.AvailabilityRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	checkin, checkout, err := parseRange(req.Checkin, req.Checkout)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	available, err := h.booking.CheckAvailability(r.Context(), req.AccommodationID, checkin, checkout)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.AvailabilityResponse{
		AccommodationID: req.AccommodationID,
		Checkin:         req.Checkin,
		Checkout:        req.Checkout,
		Available:       available,
	})
}

func (h *ReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req entities.CreateReservationRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	checkin, checkout, err := parseRange(req.Checkin, req.Checkout)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	res, err := h.booking.Create(r.Context(), service.CreateRequest{
		GuestID:         actor.ID,
		AccommodationID: req.AccommodationID,
		Checkin:         checkin,
		Checkout:        checkout,
		GuestCount:      req.GuestCount,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	resp := entities.CreateReservationResponse{ReservationResponse: entities.NewReservationResponse(res)}
	if h.checkout != nil {
		url, _, err := h.checkout.CreateCheckoutSession(r.Context(), res, req.Email)
		if err != nil {
			// the reservation stays pending and expires with its payment window
			h.log.WithError(err).WithField("reservation_id", res.ID).Warn("could not open checkout session")
		} else {
			resp.CheckoutURL = url
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, apperr.ErrNotFound)
		return
	}
	res, err := h.booking.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *ReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, apperr.ErrNotFound)
		return
	}
	var req entities.CancelReservationRequest
	if r.ContentLength != 0 {
		if he := decode(w, r, &req); he != nil {
			writeJSON(w, he.Status, he)
			return
		}
	}
	res, err := h.booking.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.StateResponse{ID: res.ID.String(), State: res.State.String()})
}

func parseRange(checkin, checkout string) (time.Time, time.Time, error) {
	in, err := utils.ParseDate(checkin)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.ErrInvalidRange
	}
	out, err := utils.ParseDate(checkout)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.ErrInvalidRange
	}
	return in, out, nil
}
