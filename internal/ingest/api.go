package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Handler provides the daily log ingestion endpoint
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the ingestion routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{patientID}/daily-log", h.SubmitDailyLog)
	return r
}

type dailyLogPayload struct {
	Metrics []MetricInput `json:"metrics"`
}

// SubmitDailyLog accepts a batch of readings for one patient
func (h *Handler) SubmitDailyLog(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid patient id"))
		return
	}

	var payload dailyLogPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if len(payload.Metrics) == 0 {
		writeError(w, apperrors.Validation("daily log requires at least one metric", nil))
		return
	}

	result, err := h.service.SubmitDailyLog(r.Context(), patientID, payload.Metrics)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
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
