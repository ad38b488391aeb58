package alert

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/shared/auth"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the alert review queue
type Handler struct {
	service *Service
}

// NewHandler creates a new alert handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the alert routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAlerts)
	r.Route("/{alertID}", func(r chi.Router) {
		r.Get("/", h.GetAlert)
		r.Get("/explain", h.ExplainAlert)
		r.Post("/action", h.ApplyAction)
	})

	return r
}

// ListAlerts returns the review queue: open alerts by default, ordered by
// severity (red, yellow, green) then newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var severity *detection.Severity
	if v := r.URL.Query().Get("severity"); v != "" {
		s := detection.Severity(v)
		if !s.Valid() {
			writeError(w, apperrors.BadRequest("unknown severity"))
			return
		}
		severity = &s
	}

	var alerts []*Alert
	var err error
	if v := r.URL.Query().Get("status"); v != "" {
		status := Status(v)
		if !status.Valid() {
			writeError(w, apperrors.BadRequest("unknown status"))
			return
		}
		alerts, err = h.service.List(r.Context(), ListFilter{Status: &status, Severity: severity})
	} else {
		alerts, err = h.service.ListOpen(r.Context(), severity)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alerts,
		"count": len(alerts),
	})
}

// GetAlert returns one alert
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid alert id"))
		return
	}

	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ExplainAlert returns the ranked factor breakdown for an alert
func (h *Handler) ExplainAlert(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid alert id"))
		return
	}

	result, err := h.service.Explain(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type actionPayload struct {
	Action string `json:"action"`
	Note   string `json:"note"`
}

// ApplyAction executes a reviewer triage action against an alert. The actor
// comes from the authenticated session, not the payload.
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid alert id"))
		return
	}

	var payload actionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.BadRequest("missing authenticated user"))
		return
	}

	entry, err := h.service.ApplyAction(r.Context(), id, ActionRequest{
		Action:  ReviewerAction(payload.Action),
		ActorID: user.ID,
		Role:    user.Role,
		Note:    payload.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_entry_id": entry.ID,
		"sequence":       entry.Sequence,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*apperrors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
