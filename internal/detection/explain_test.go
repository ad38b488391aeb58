package detection

import (
	"reflect"
	"testing"

	"github.com/recoverguard/platform/internal/patient"
)

func TestRankDeviationsByContribution(t *testing.T) {
	devs := []Deviation{
		{Metric: MetricSteps, Contribution: 0.24},
		{Metric: MetricPain, Contribution: 0.5},
		{Metric: MetricTemperature, Contribution: 0.3},
	}

	ranked := RankDeviations(devs)

	got := []string{ranked[0].Metric, ranked[1].Metric, ranked[2].Metric}
	want := []string{MetricPain, MetricTemperature, MetricSteps}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ranking = %v, want %v", got, want)
	}
}

func TestRankDeviationsTieBreaking(t *testing.T) {
	// equal contributions fall back to the fixed metric priority
	devs := []Deviation{
		{Metric: "sleep_quality", Contribution: 0.3},
		{Metric: MetricSteps, Contribution: 0.3},
		{Metric: MetricTemperature, Contribution: 0.3},
		{Metric: MetricPain, Contribution: 0.3},
	}

	ranked := RankDeviations(devs)

	got := []string{ranked[0].Metric, ranked[1].Metric, ranked[2].Metric, ranked[3].Metric}
	want := []string{MetricPain, MetricTemperature, MetricSteps, "sleep_quality"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ranking = %v, want %v", got, want)
	}
}

func TestRankDeviationsDoesNotMutateInput(t *testing.T) {
	devs := []Deviation{
		{Metric: MetricSteps, Contribution: 0.24},
		{Metric: MetricPain, Contribution: 0.5},
	}

	RankDeviations(devs)

	if devs[0].Metric != MetricSteps {
		t.Error("input slice was reordered")
	}
}

func TestExplainTopThreeOnly(t *testing.T) {
	devs := []Deviation{
		{Metric: MetricPain, Contribution: 0.5},
		{Metric: MetricTemperature, Contribution: 0.3},
		{Metric: MetricSteps, Contribution: 0.24},
		{Metric: MetricAdherence, Contribution: 0.15},
		{Metric: MetricWoundPhoto, Contribution: 0.1},
	}

	result := Explain(devs, 0.9, 0.05, SeverityYellow, patient.RiskTierLow)

	if len(result.RankedFactors) != 3 {
		t.Fatalf("ranked factors = %d, want 3", len(result.RankedFactors))
	}
	if result.RankedFactors[0].Metric != MetricPain {
		t.Errorf("top factor = %v, want pain_score", result.RankedFactors[0].Metric)
	}
}

func TestExplainIdempotent(t *testing.T) {
	devs := []Deviation{
		{Metric: MetricPain, Contribution: 0.5, Evidence: "pain high"},
		{Metric: MetricSteps, Contribution: 0.24, Evidence: "steps low"},
	}

	first := Explain(devs, 0.75, 0.125, SeverityYellow, patient.RiskTierHigh)
	second := Explain(devs, 0.75, 0.125, SeverityYellow, patient.RiskTierHigh)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("explain not idempotent: %+v vs %+v", second, first)
	}
}

func TestExplainTierThreeSuggestsPhysicianConsult(t *testing.T) {
	devs := []Deviation{{Metric: MetricPain, Contribution: 0.5}}

	result := Explain(devs, 1, 0, SeverityYellow, patient.RiskTierHigh)

	found := false
	for _, a := range result.SuggestedActions {
		if a == "Consider early physician consult" {
			found = true
		}
	}
	if !found {
		t.Errorf("suggested actions %v missing physician consult for tier 3", result.SuggestedActions)
	}

	result = Explain(devs, 1, 0, SeverityYellow, patient.RiskTierLow)
	for _, a := range result.SuggestedActions {
		if a == "Consider early physician consult" {
			t.Errorf("tier 1 should not suggest physician consult: %v", result.SuggestedActions)
		}
	}
}
