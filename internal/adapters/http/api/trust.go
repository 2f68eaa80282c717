package api

import (
	"net/http"

	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// TrustHandler serves the public trust read and the rescore trigger.
type TrustHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewTrustHandler creates a new trust handler.
func NewTrustHandler(deps Dependencies, l logger.Logger) *TrustHandler {
	return &TrustHandler{deps: deps, logger: l}
}

// HandleTrust routes GET /trust/{user_id} and POST /trust/{user_id}/rescore.
func (h *TrustHandler) HandleTrust(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/trust/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "rescore" && r.Method == http.MethodPost:
		h.handleRescore(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *TrustHandler) handleGet(w http.ResponseWriter, r *http.Request, userID string) {
	const op = "api.get_trust"
	role, err := roleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	p, err := h.deps.Trust(r.Context(), userID, role)
	if err != nil {
		fail(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.TrustView{
		TrustScore: p.TrustScore,
		Status:     string(p.TrustStatus),
	})
}

func (h *TrustHandler) handleRescore(w http.ResponseWriter, r *http.Request, userID string) {
	const op = "api.rescore"
	role, err := roleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.Rescore(r.Context(), userID, role)
	if err != nil {
		fail(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.RescoreView{
		UserID:         userID,
		Role:           string(role),
		TrustScore:     out.Score,
		Status:         string(out.Current),
		PreviousStatus: string(out.Previous),
		Hold:           out.Hold,
		Affected:       out.Affected,
	})
}
