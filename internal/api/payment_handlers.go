package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"lodging/internal/db"
	"lodging/internal/entities"
	apperr "lodging/internal/errors"
	"lodging/internal/service"
)

type Settler interface {
	Settle(ctx context.Context, req service.SettleRequest) (*db.Reservation, error)
}

type PaymentHandler struct {
	settler Settler
	log     logrus.FieldLogger
}

func NewPaymentHandler(settler Settler, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{settler: settler, log: log}
}

// Settle applies a gateway outcome reported by a trusted caller.
func (h *PaymentHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req entities.SettlePaymentRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	id, err := uuid.Parse(req.ReservationID)
	if err != nil {
		writeError(w, h.log, apperr.ErrInvalidInput)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, h.log, apperr.ErrInvalidInput)
		return
	}
	res, err := h.settler.Settle(r.Context(), service.SettleRequest{
		ReservationID: id,
		Outcome:       db.Outcome(req.Outcome),
		Amount:        amount,
		Method:        req.Method,
		GatewayRef:    req.GatewayRef,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.StateResponse{ID: res.ID.String(), State: res.State.String()})
}
