package api

import (
	"net/http"

	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// CronHandler exposes the overdue-payment sweep to an external scheduler.
type CronHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewCronHandler creates a new cron handler.
func NewCronHandler(deps Dependencies, l logger.Logger) *CronHandler {
	return &CronHandler{deps: deps, logger: l}
}

// HandleSweep handles POST /cron/overdue-payments.
func (h *CronHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	const op = "api.cron_sweep"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	report, err := h.deps.Sweep(r.Context())
	if err != nil {
		status := statusFor(err)
		if status >= statusInternalError {
			h.logger.Error(r.Context(), "sweep failed", logger.Error(err))
		}
		writeJSON(w, status, types.SweepResponse{
			Success:      false,
			OverdueFound: report.OverdueFound,
			BlockedCount: report.NewlyRestricted,
		})
		return
	}
	h.logger.Debug(r.Context(), "sweep triggered",
		logger.String("op", op),
		logger.Int("overdue_found", report.OverdueFound),
	)
	writeJSON(w, http.StatusOK, types.SweepResponse{
		Success:      true,
		OverdueFound: report.OverdueFound,
		BlockedCount: report.NewlyRestricted,
	})
}
