package api

import (
	"net/http"

	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// AdminHandler serves the audit view of a profile.
type AdminHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies, l logger.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, logger: l}
}

// HandleGetAudit handles GET /admin/trust/{user_id}.
func (h *AdminHandler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_audit"
	parts := pathParts(r.URL.Path, "/admin/trust/")
	if r.Method != http.MethodGet || len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	role, err := roleParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}

	audit, err := h.deps.Audit(r.Context(), parts[0], role, limit)
	if err != nil {
		fail(r.Context(), h.logger, w, Wrap(op, err))
		return
	}

	view := types.AdminView{
		UserID:     audit.Profile.UserID,
		Role:       string(audit.Profile.Role),
		TrustScore: audit.Profile.TrustScore,
		Status:     string(audit.Profile.TrustStatus),
		Hold:       audit.Profile.TrustHold,
		UpdatedAt:  audit.Profile.UpdatedAt,
		Events:     make([]types.EventView, 0, len(audit.Events)),
	}
	for _, e := range audit.Events {
		view.Events = append(view.Events, types.EventView{
			ID:        e.ID,
			EventType: string(e.EventType),
			Impact:    e.Impact,
			ShiftID:   e.ShiftID,
			PaymentID: e.PaymentID,
			CreatedAt: e.CreatedAt,
			InWindow:  e.CreatedAt.After(audit.Since),
		})
	}
	writeJSON(w, http.StatusOK, view)
}
