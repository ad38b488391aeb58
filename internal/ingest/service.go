package ingest

import (
	"context"
	"time"

	"github.com/recoverguard/platform/internal/alert"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/events"
	"github.com/recoverguard/platform/internal/shared/metrics"
	"github.com/recoverguard/platform/internal/shared/types"
)

// MetricInput is one metric in a submitted daily log
type MetricInput struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RejectedReading reports one dropped metric and why. The rest of the batch
// is unaffected.
type RejectedReading struct {
	Metric string `json:"metric"`
	Reason string `json:"reason"`
}

// Result is the outcome of one daily log submission
type Result struct {
	AlertID  *types.ID         `json:"admitted_alert_id"`
	Rejected []RejectedReading `json:"rejected,omitempty"`
}

// Publisher is the slice of the event bus ingestion needs
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service is the ingestion entry point: it validates raw readings, runs the
// detection pipeline, and hands the composition to the alert service.
type Service struct {
	patients patient.Repository
	alerts   *alert.Service
	cfg      config.DetectionConfig
	bus      Publisher
}

func NewService(patients patient.Repository, alerts *alert.Service, cfg config.DetectionConfig, bus Publisher) *Service {
	return &Service{patients: patients, alerts: alerts, cfg: cfg, bus: bus}
}

// plausible bounds per metric; values outside are malformed, not deviations
type bounds struct{ min, max float64 }

var plausibleRanges = map[string]bounds{
	detection.MetricPain:        {0, 10},
	detection.MetricTemperature: {90, 110},
	detection.MetricSteps:       {0, 100000},
	detection.MetricAdherence:   {0, 1},
	detection.MetricWoundPhoto:  {0, 1},
	detection.MetricVoice:       {0, 1},
}

// validate returns nil for acceptable readings. Unknown metrics pass: the
// evaluator degrades them to the fallback contribution.
func validate(name string, value float64) error {
	b, ok := plausibleRanges[name]
	if !ok {
		return nil
	}
	if value < b.min || value > b.max {
		return apperrors.MalformedReading(name, "value outside plausible range")
	}
	return nil
}

// consentFor maps the opt-in signal channels to their consent type
func consentFor(metric string) (patient.ConsentType, bool) {
	switch metric {
	case detection.MetricWoundPhoto:
		return patient.ConsentPhoto, true
	case detection.MetricVoice:
		return patient.ConsentVoice, true
	}
	return "", false
}

// SubmitDailyLog runs one batch of readings for a patient through the
// detection pipeline. Malformed or non-consented readings are dropped and
// reported without failing the rest of the batch. Returns the surfaced
// alert id, or nil when the composition was suppressed or green.
func (s *Service) SubmitDailyLog(ctx context.Context, patientID types.ID, inputs []MetricInput) (*Result, error) {
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	now := time.Now().UTC()
	readings := make([]detection.Reading, 0, len(inputs))

	for _, in := range inputs {
		if err := validate(in.Name, in.Value); err != nil {
			s.reject(ctx, patientID, in, err.Error())
			result.Rejected = append(result.Rejected, RejectedReading{
				Metric: in.Name, Reason: "value outside plausible range",
			})
			continue
		}

		if consent, gated := consentFor(in.Name); gated && !p.HasConsent(consent) {
			s.reject(ctx, patientID, in, "consent not granted")
			result.Rejected = append(result.Rejected, RejectedReading{
				Metric: in.Name, Reason: "consent not granted",
			})
			continue
		}

		readings = append(readings, detection.Reading{
			PatientID: patientID,
			Metric:    in.Name,
			Value:     in.Value,
			Timestamp: now,
		})
	}

	if len(readings) == 0 {
		return result, nil
	}

	devs := detection.EvaluateAll(readings, p, now)
	comp := detection.Compose(devs, p, s.cfg, now)

	admitted, err := s.alerts.Admit(ctx, comp, p)
	if err != nil {
		return nil, err
	}
	if admitted != nil {
		result.AlertID = &admitted.ID
	}
	return result, nil
}

func (s *Service) reject(ctx context.Context, patientID types.ID, in MetricInput, reason string) {
	metrics.RecordReadingRejected(in.Name)
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.NewEvent(events.TypeReadingRejected, "ingest", map[string]any{
		"patient_id": patientID,
		"metric":     in.Name,
		"value":      in.Value,
		"reason":     reason,
	}))
}
