package detection

import (
	"testing"
	"time"

	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/types"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		RedThreshold:            0.75,
		YellowThreshold:         0.4,
		ConfidenceIntervalScale: 0.5,
		MinConsecutiveAbnormal:  2,
		HysteresisHours:         6,
	}
}

func testPatient(tier patient.RiskTier) *patient.Patient {
	return &patient.Patient{
		ID:            types.NewID(),
		Name:          "Margaret Chen",
		SurgeryType:   "TKR",
		DischargeDate: time.Now().AddDate(0, 0, -3),
		Baseline:      testBaseline(),
		RiskTier:      tier,
	}
}

func TestComposeThreeElevatedSignalsStaysYellow(t *testing.T) {
	// pain 0.5, steps 0.24, temperature 0.3:
	// combined = 1 - 0.5*0.76*0.7 = 0.734, just under the red band
	p := testPatient(patient.RiskTierMedium)
	now := time.Now()
	devs := EvaluateAll([]Reading{
		{PatientID: p.ID, Metric: MetricPain, Value: 7, Timestamp: now},
		{PatientID: p.ID, Metric: MetricSteps, Value: 600, Timestamp: now},
		{PatientID: p.ID, Metric: MetricTemperature, Value: 100.2, Timestamp: now},
	}, p, now)

	comp := Compose(devs, p, testDetectionConfig(), now)

	if !almostEqual(comp.CombinedScore, 0.734) {
		t.Errorf("combined score = %v, want 0.734", comp.CombinedScore)
	}
	if comp.Severity != SeverityYellow {
		t.Errorf("severity = %v, want yellow", comp.Severity)
	}
	if comp.DominantSignal != MetricPain {
		t.Errorf("dominant signal = %v, want pain_score", comp.DominantSignal)
	}
}

func TestComposeSeverityBands(t *testing.T) {
	tests := []struct {
		name          string
		contributions []float64
		want          Severity
	}{
		{"no deviation", []float64{0}, SeverityGreen},
		{"single capped temperature", []float64{0.3}, SeverityGreen},
		{"exactly at yellow bound", []float64{0.4}, SeverityYellow},
		{"just below yellow", []float64{0.39}, SeverityGreen},
		{"exactly at red bound", []float64{0.75}, SeverityRed},
		{"two strong signals", []float64{0.5, 0.5}, SeverityRed},
	}

	now := time.Now()
	p := testPatient(patient.RiskTierLow)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devs := make([]Deviation, len(tt.contributions))
			for i, c := range tt.contributions {
				devs[i] = Deviation{Metric: MetricPain, Contribution: c}
			}

			comp := Compose(devs, p, testDetectionConfig(), now)
			if comp.Severity != tt.want {
				t.Errorf("severity = %v (score %v), want %v",
					comp.Severity, comp.CombinedScore, tt.want)
			}
		})
	}
}

func TestComposeNoSingleSignalRed(t *testing.T) {
	// every metric's cap alone must stay below the red threshold
	now := time.Now()
	p := testPatient(patient.RiskTierLow)
	cfg := testDetectionConfig()

	caps := map[string]float64{
		MetricPain:        painCap,
		MetricTemperature: tempCap,
		MetricSteps:       stepsWeight,
		MetricAdherence:   adherenceWeight,
	}
	for metric, c := range caps {
		comp := Compose([]Deviation{{Metric: metric, Contribution: c}}, p, cfg, now)
		if comp.Severity == SeverityRed {
			t.Errorf("%s alone at cap %v reached red (score %v)", metric, c, comp.CombinedScore)
		}
	}
}

func TestComposeMonotonicAggregation(t *testing.T) {
	now := time.Now()
	p := testPatient(patient.RiskTierLow)
	cfg := testDetectionConfig()

	base := []Deviation{
		{Metric: MetricPain, Contribution: 0.2},
		{Metric: MetricSteps, Contribution: 0.1},
	}
	prev := Compose(base, p, cfg, now).CombinedScore

	for c := 0.25; c <= 0.5; c += 0.05 {
		devs := []Deviation{
			{Metric: MetricPain, Contribution: c},
			{Metric: MetricSteps, Contribution: 0.1},
		}
		score := Compose(devs, p, cfg, now).CombinedScore
		if score < prev {
			t.Fatalf("combined score decreased from %v to %v as pain contribution rose to %v",
				prev, score, c)
		}
		prev = score
	}
}

func TestComposeDeterminism(t *testing.T) {
	now := time.Now()
	p := testPatient(patient.RiskTierHigh)
	cfg := testDetectionConfig()
	devs := []Deviation{
		{Metric: MetricPain, Contribution: 0.35, Evidence: "pain_score 6.0 is 3.5 std devs from baseline 3.2"},
		{Metric: MetricSteps, Contribution: 0.2, Evidence: "steps 750 is 50% below expected 1500"},
	}

	first := Compose(devs, p, cfg, now)
	for i := 0; i < 5; i++ {
		again := Compose(devs, p, cfg, now)
		if again.CombinedScore != first.CombinedScore ||
			again.Severity != first.Severity ||
			again.Reason != first.Reason {
			t.Fatalf("compose not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestComposeReasonIsTopThreeEvidence(t *testing.T) {
	now := time.Now()
	p := testPatient(patient.RiskTierLow)
	devs := []Deviation{
		{Metric: MetricSteps, Contribution: 0.2, Evidence: "steps ev"},
		{Metric: MetricPain, Contribution: 0.5, Evidence: "pain ev"},
		{Metric: MetricTemperature, Contribution: 0.3, Evidence: "temp ev"},
		{Metric: MetricWoundPhoto, Contribution: 0.1, Evidence: "photo ev"},
	}

	comp := Compose(devs, p, testDetectionConfig(), now)

	want := "pain ev; temp ev; steps ev"
	if comp.Reason != want {
		t.Errorf("reason = %q, want %q", comp.Reason, want)
	}
}

func TestComposeRecommendedAction(t *testing.T) {
	tests := []struct {
		name          string
		contributions []float64
		tier          patient.RiskTier
		want          RecommendedAction
	}{
		{"red", []float64{0.5, 0.5}, patient.RiskTierLow, ActionNurseCall},
		{"yellow tier 3", []float64{0.5}, patient.RiskTierHigh, ActionPhysicianEscalate},
		{"yellow tier 1", []float64{0.5}, patient.RiskTierLow, ActionNurseCall},
		{"green", []float64{0.1}, patient.RiskTierHigh, ActionMonitor},
	}

	now := time.Now()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPatient(tt.tier)
			devs := make([]Deviation, len(tt.contributions))
			for i, c := range tt.contributions {
				devs[i] = Deviation{Metric: MetricPain, Contribution: c}
			}

			comp := Compose(devs, p, testDetectionConfig(), now)
			if comp.Action != tt.want {
				t.Errorf("action = %v, want %v", comp.Action, tt.want)
			}
		})
	}
}

func TestComposeConfidenceAndInterval(t *testing.T) {
	now := time.Now()
	p := testPatient(patient.RiskTierLow)
	cfg := testDetectionConfig()

	// two of the four core signals present: completeness 0.5
	devs := []Deviation{
		{Metric: MetricPain, Contribution: 0.2},
		{Metric: MetricSteps, Contribution: 0.1},
	}
	comp := Compose(devs, p, cfg, now)

	if !almostEqual(comp.Confidence, 0.5) {
		t.Errorf("confidence = %v, want 0.5", comp.Confidence)
	}
	if !almostEqual(comp.ConfInterval, 0.25) {
		t.Errorf("interval = %v, want (1-0.5)*0.5 = 0.25", comp.ConfInterval)
	}

	// full batch: completeness 1, interval collapses to 0
	full := []Deviation{
		{Metric: MetricPain}, {Metric: MetricTemperature},
		{Metric: MetricSteps}, {Metric: MetricAdherence},
	}
	comp = Compose(full, p, cfg, now)
	if !almostEqual(comp.Confidence, 1) {
		t.Errorf("confidence = %v, want 1", comp.Confidence)
	}
	if !almostEqual(comp.ConfInterval, 0) {
		t.Errorf("interval = %v, want 0", comp.ConfInterval)
	}
}

func TestComposeSurgeryOverrideThresholds(t *testing.T) {
	cfg := testDetectionConfig()
	cfg.SurgeryOverrides = map[string]config.SurgeryPolicy{
		"CABG": {RedThreshold: 0.6, YellowThreshold: 0.3},
	}

	now := time.Now()
	p := testPatient(patient.RiskTierLow)
	p.SurgeryType = "CABG"

	devs := []Deviation{{Metric: MetricPain, Contribution: 0.65}}
	comp := Compose(devs, p, cfg, now)
	if comp.Severity != SeverityRed {
		t.Errorf("severity = %v, want red under CABG override", comp.Severity)
	}

	// another surgery type keeps the global bands
	p.SurgeryType = "TKR"
	comp = Compose(devs, p, cfg, now)
	if comp.Severity != SeverityYellow {
		t.Errorf("severity = %v, want yellow under defaults", comp.Severity)
	}
}
