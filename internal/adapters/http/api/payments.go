package api

import (
	"net/http"

	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// PaymentsHandler settles payments.
type PaymentsHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewPaymentsHandler creates a new payments handler.
func NewPaymentsHandler(deps Dependencies, l logger.Logger) *PaymentsHandler {
	return &PaymentsHandler{deps: deps, logger: l}
}

// HandleSettle handles POST /payments/{id}/settle.
func (h *PaymentsHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	const op = "api.settle_payment"
	parts := pathParts(r.URL.Path, "/payments/")
	if r.Method != http.MethodPost || len(parts) != 2 || parts[1] != "settle" {
		http.NotFound(w, r)
		return
	}
	var req types.SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.SettlePayment(r.Context(), parts[0], req.Status)
	if err != nil {
		fail(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.SettleResponse{
		PaymentID:    res.Payment.ID,
		Status:       string(res.Payment.Status),
		HoldReleased: res.HoldReleased,
	})
}
