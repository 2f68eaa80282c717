package api

import (
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/gigtrust/internal/app"
	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// EventsHandler handles event ingestion.
type EventsHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, l logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: l}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req types.EventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}
	in, err := eventInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}

	rec, err := h.deps.RecordEvent(r.Context(), in)
	switch {
	case errors.Is(err, service.ErrBackpressure):
		// The event is stored; only its rescore was deferred.
		writeJSON(w, http.StatusTooManyRequests, types.EventAccepted{
			Status: "stored", EventID: rec.Event.ID, Rescore: rec.Rescore,
		})
		return
	case err != nil:
		fail(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.EventAccepted{
		Status: "accepted", EventID: rec.Event.ID, Rescore: rec.Rescore,
	})
}

func eventInput(req types.EventRequest) (service.EventInput, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return service.EventInput{}, errors.New("missing user_id")
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return service.EventInput{}, err
	}
	et := model.EventType(req.EventType)
	if !et.Known() {
		return service.EventInput{}, errors.New("unknown event_type")
	}
	in := service.EventInput{
		UserID:    req.UserID,
		Role:      role,
		EventType: et,
		Impact:    req.Impact,
		ShiftID:   req.ShiftID,
		PaymentID: req.PaymentID,
	}
	if req.Impact != nil && (*req.Impact > model.MaxImpact || *req.Impact < -model.MaxImpact) {
		return service.EventInput{}, errors.New("impact out of range")
	}
	if req.CreatedAt != nil {
		in.CreatedAt = req.CreatedAt.UTC()
	}
	return in, nil
}
