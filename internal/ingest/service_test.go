package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/recoverguard/platform/internal/alert"
	"github.com/recoverguard/platform/internal/audit"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

func testSetup(t *testing.T) (*Service, *patient.Patient) {
	t.Helper()

	cfg := config.DetectionConfig{
		RedThreshold:            0.75,
		YellowThreshold:         0.4,
		ConfidenceIntervalScale: 0.5,
		MinConsecutiveAbnormal:  2,
		HysteresisHours:         6,
	}

	patients := patient.NewMemoryRepository()
	p := &patient.Patient{
		ID:            types.NewID(),
		Name:          "Dorothy Alvarez",
		SurgeryType:   "TKR",
		DischargeDate: time.Now().AddDate(0, 0, -3),
		RiskTier:      patient.RiskTierMedium,
		Baseline: patient.Baseline{
			PainMean: 3.2, PainStd: 0.8,
			StepsExpected: []int{500, 800, 1100, 1500, 1800},
			TempMean:      98.4, TempStd: 0.3,
		},
	}
	if err := patients.Save(context.Background(), p); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	alerts := alert.NewService(
		alert.NewMemoryRepository(),
		audit.NewMemoryRepository(),
		patients,
		detection.NewPolicyEngine(cfg),
		nil,
		nil,
	)
	return NewService(patients, alerts, cfg, nil), p
}

func TestSubmitDailyLogUnknownPatient(t *testing.T) {
	svc, _ := testSetup(t)

	_, err := svc.SubmitDailyLog(context.Background(), types.NewID(), []MetricInput{
		{Name: detection.MetricPain, Value: 5},
	})
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestSubmitDailyLogNormalReadingsNoAlert(t *testing.T) {
	svc, p := testSetup(t)

	result, err := svc.SubmitDailyLog(context.Background(), p.ID, []MetricInput{
		{Name: detection.MetricPain, Value: 3.2},
		{Name: detection.MetricTemperature, Value: 98.4},
		{Name: detection.MetricSteps, Value: 1600},
		{Name: detection.MetricAdherence, Value: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.AlertID != nil {
		t.Errorf("alert id = %v, want none for baseline readings", result.AlertID)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("rejected = %v, want none", result.Rejected)
	}
}

func TestSubmitDailyLogSustainedDeviationAlerts(t *testing.T) {
	svc, p := testSetup(t)
	ctx := context.Background()

	abnormal := []MetricInput{
		{Name: detection.MetricPain, Value: 7},
		{Name: detection.MetricSteps, Value: 600},
	}

	// first abnormal day is suppressed by the consecutive-reading gate
	result, err := svc.SubmitDailyLog(ctx, p.ID, abnormal)
	if err != nil {
		t.Fatalf("day 1: %v", err)
	}
	if result.AlertID != nil {
		t.Fatalf("day 1 surfaced alert %v, want suppression", result.AlertID)
	}

	// second consecutive abnormal day surfaces an alert
	result, err = svc.SubmitDailyLog(ctx, p.ID, abnormal)
	if err != nil {
		t.Fatalf("day 2: %v", err)
	}
	if result.AlertID == nil {
		t.Fatal("day 2 surfaced no alert, want one")
	}
}

func TestSubmitDailyLogMalformedReadingDropped(t *testing.T) {
	svc, p := testSetup(t)

	// the negative steps reading is dropped; the rest of the batch proceeds
	result, err := svc.SubmitDailyLog(context.Background(), p.ID, []MetricInput{
		{Name: detection.MetricSteps, Value: -200},
		{Name: detection.MetricPain, Value: 3.2},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("rejected = %v, want exactly the steps reading", result.Rejected)
	}
	if result.Rejected[0].Metric != detection.MetricSteps {
		t.Errorf("rejected metric = %s, want steps", result.Rejected[0].Metric)
	}
}

func TestSubmitDailyLogMalformedValues(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		value  float64
	}{
		{"negative steps", detection.MetricSteps, -1},
		{"pain above scale", detection.MetricPain, 14},
		{"impossible temperature", detection.MetricTemperature, 150},
		{"adherence above one", detection.MetricAdherence, 1.5},
	}

	svc, p := testSetup(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.SubmitDailyLog(context.Background(), p.ID, []MetricInput{
				{Name: tt.metric, Value: tt.value},
			})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if len(result.Rejected) != 1 {
				t.Errorf("rejected = %v, want 1", result.Rejected)
			}
			if result.AlertID != nil {
				t.Errorf("malformed reading produced alert %v", result.AlertID)
			}
		})
	}
}

func TestSubmitDailyLogConsentGating(t *testing.T) {
	svc, p := testSetup(t)
	ctx := context.Background()

	// without photo consent the wound photo flag is dropped
	result, err := svc.SubmitDailyLog(ctx, p.ID, []MetricInput{
		{Name: detection.MetricWoundPhoto, Value: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != "consent not granted" {
		t.Fatalf("rejected = %v, want consent rejection", result.Rejected)
	}

	// with consent granted the reading is evaluated
	p.SetConsent(patient.ConsentPhoto, true, time.Now())
	if err := svc.patients.Save(ctx, p); err != nil {
		t.Fatalf("save consent: %v", err)
	}

	result, err = svc.SubmitDailyLog(ctx, p.ID, []MetricInput{
		{Name: detection.MetricWoundPhoto, Value: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("rejected = %v, want none after consent", result.Rejected)
	}
}

func TestSubmitDailyLogUnknownMetricAccepted(t *testing.T) {
	svc, p := testSetup(t)

	// novel signals degrade to the fallback contribution instead of failing
	result, err := svc.SubmitDailyLog(context.Background(), p.ID, []MetricInput{
		{Name: "sleep_quality", Value: 2},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("rejected = %v, want none for unknown metric", result.Rejected)
	}
}
