package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"lodging/internal/clock"
	"lodging/internal/entities"
	"lodging/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (service.SweepReport, error)
}

type AdminHandler struct {
	sweeper Sweeper
	clock   clock.Clock
	log     logrus.FieldLogger
}

func NewAdminHandler(sweeper Sweeper, clk clock.Clock, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, clock: clk, log: log}
}

// Sweep runs one expiration pass immediately.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context(), h.clock.Now())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.SweepResponse{
		Completed: report.Completed,
		Cancelled: report.Cancelled,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
