package patient

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/recoverguard/platform/internal/shared/auth"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Handler provides HTTP handlers for patient records and consent
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the patient routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListPatients)
	r.Post("/", h.RegisterPatient)

	r.Route("/{patientID}", func(r chi.Router) {
		r.Get("/", h.GetPatient)
		r.Post("/consent", h.SetConsent)
	})

	return r
}

// ListPatients lists monitored patients
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	filter := ListPatientsFilter{
		SurgeryType: r.URL.Query().Get("surgery_type"),
		Search:      r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("risk_tier"); v != "" {
		tier, err := strconv.Atoi(v)
		if err != nil || tier < 1 || tier > 3 {
			writeError(w, apperrors.BadRequest("risk_tier must be 1, 2 or 3"))
			return
		}
		rt := RiskTier(tier)
		filter.RiskTier = &rt
	}

	patients, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if patients == nil {
		patients = []*Patient{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  patients,
		"total": total,
	})
}

// GetPatient returns one patient record
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid patient id"))
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RegisterPatient stores a new patient from onboarding
func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var p Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if p.Name == "" || p.SurgeryType == "" {
		writeError(w, apperrors.Validation("missing required fields", map[string]string{
			"name":         "required",
			"surgery_type": "required",
		}))
		return
	}

	if err := h.service.Register(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type consentPayload struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
}

// SetConsent grants or revokes a consent channel for a patient
func (h *Handler) SetConsent(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid patient id"))
		return
	}

	var payload consentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.BadRequest("missing authenticated user"))
		return
	}

	err = h.service.SetConsent(r.Context(), id, ConsentType(payload.Type), payload.Granted, user.ID, user.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
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
