package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"lodging/internal/db"
	"lodging/internal/entities"
)

type Recovery interface {
	Request(ctx context.Context, email string) (*db.RecoveryCode, error)
	Validate(ctx context.Context, userID int64, code string) (bool, error)
	Consume(ctx context.Context, userID int64, code string) error
}

type RecoveryHandler struct {
	recovery Recovery
	log      logrus.FieldLogger
}

func NewRecoveryHandler(recovery Recovery, log logrus.FieldLogger) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery, log: log}
}

// RequestCode issues a code and mails it. The code itself never appears in
// the response.
func (h *RecoveryHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req entities.RecoveryCodeRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	code, err := h.recovery.Request(r.Context(), req.Email)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entities.RecoveryCodeResponse{
		ExpiresAt: code.ExpiresAt.UTC().Truncate(time.Second),
		Message:   "a recovery code was sent to your email",
	})
}

func (h *RecoveryHandler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req entities.RecoveryCodeCheckRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	ok, err := h.recovery.Validate(r.Context(), req.UserID, req.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.ValidateResponse{Valid: ok})
}

func (h *RecoveryHandler) ConsumeCode(w http.ResponseWriter, r *http.Request) {
	var req entities.RecoveryCodeCheckRequest
	if he := decode(w, r, &req); he != nil {
		writeJSON(w, he.Status, he)
		return
	}
	if err := h.recovery.Consume(r.Context(), req.UserID, req.Code); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
