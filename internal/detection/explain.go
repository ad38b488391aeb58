package detection

import (
	"sort"

	"github.com/recoverguard/platform/internal/patient"
)

// metricPriority breaks contribution ties with a fixed order so rankings are
// fully deterministic: pain over temperature over steps over everything else.
func metricPriority(metric string) int {
	switch metric {
	case MetricPain:
		return 0
	case MetricTemperature:
		return 1
	case MetricSteps:
		return 2
	}
	return 3
}

// RankDeviations orders deviations by contribution descending, ties broken by
// metric priority. The input is not modified.
func RankDeviations(devs []Deviation) []Deviation {
	ranked := make([]Deviation, len(devs))
	copy(ranked, devs)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Contribution != ranked[j].Contribution {
			return ranked[i].Contribution > ranked[j].Contribution
		}
		return metricPriority(ranked[i].Metric) < metricPriority(ranked[j].Metric)
	})
	return ranked
}

// ExplainResult is the reviewer-facing breakdown of why an alert fired
type ExplainResult struct {
	RankedFactors    []Deviation `json:"ranked_factors"`
	Confidence       float64     `json:"confidence"`
	ConfInterval     float64     `json:"confidence_interval"`
	SuggestedActions []string    `json:"suggested_actions"`
}

// Explain renders the top contributing factors and suggested next steps for
// an alert. Pure and idempotent: the same inputs always yield the same output.
func Explain(devs []Deviation, confidence, confInterval float64, severity Severity, tier patient.RiskTier) ExplainResult {
	ranked := RankDeviations(devs)
	if len(ranked) > maxReasonFactors {
		ranked = ranked[:maxReasonFactors]
	}

	return ExplainResult{
		RankedFactors:    ranked,
		Confidence:       confidence,
		ConfInterval:     confInterval,
		SuggestedActions: suggestedActions(severity, tier),
	}
}

func suggestedActions(severity Severity, tier patient.RiskTier) []string {
	var actions []string

	switch severity {
	case SeverityRed:
		actions = append(actions,
			"Call patient now",
			"Review top contributing signals against discharge plan")
	case SeverityYellow:
		actions = append(actions,
			"Call or message patient today",
			"Re-check readings at next reporting window")
	case SeverityGreen:
		actions = append(actions, "Continue monitoring")
	default:
		actions = append(actions, "Continue monitoring")
	}

	if tier == patient.RiskTierHigh {
		actions = append(actions, "Consider early physician consult")
	}
	return actions
}
