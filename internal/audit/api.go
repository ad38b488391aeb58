package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the audit trail
type Handler struct {
	repo Repository
}

// NewHandler creates a new audit handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)

	return r
}

// ListEntries returns audit entries newest-first, optionally filtered by
// patient, alert, actor or action.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Action: r.URL.Query().Get("action"),
		Limit:  100,
	}

	if v := r.URL.Query().Get("patient_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			writeError(w, apperrors.BadRequest("invalid patient_id"))
			return
		}
		filter.PatientID = &id
	}
	if v := r.URL.Query().Get("alert_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			writeError(w, apperrors.BadRequest("invalid alert_id"))
			return
		}
		filter.AlertID = &id
	}
	if v := r.URL.Query().Get("actor_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			writeError(w, apperrors.BadRequest("invalid actor_id"))
			return
		}
		filter.ActorID = &id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	entries, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

// VerifyChain walks the full hash chain and reports integrity
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.repo.VerifyChain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
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
