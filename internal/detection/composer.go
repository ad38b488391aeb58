package detection

import (
	"math"
	"strings"
	"time"

	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Severity classifies a composed deviation, ordered red > yellow > green
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityYellow Severity = "yellow"
	SeverityGreen  Severity = "green"
)

// Rank orders severities for sorting and escalate-only merges
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 0
	case SeverityYellow:
		return 1
	case SeverityGreen:
		return 2
	}
	return 3
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityRed, SeverityYellow, SeverityGreen:
		return true
	}
	return false
}

// RecommendedAction is the composer's suggested response to an alert
type RecommendedAction string

const (
	ActionNurseCall         RecommendedAction = "nurse_call"
	ActionPhysicianEscalate RecommendedAction = "physician_escalate"
	ActionMonitor           RecommendedAction = "monitor"
	ActionDismiss           RecommendedAction = "dismiss"
)

// Composition is the combined verdict over one batch of readings: what the
// temporal policy engine decides on and what an admitted alert is built from.
type Composition struct {
	PatientID      types.ID          `json:"patient_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Severity       Severity          `json:"severity"`
	CombinedScore  float64           `json:"combined_score"`
	Confidence     float64           `json:"confidence"`
	ConfInterval   float64           `json:"confidence_interval"`
	Reason         string            `json:"reason"`
	Action         RecommendedAction `json:"recommended_action"`
	DominantSignal string            `json:"dominant_signal"`
	Deviations     []Deviation       `json:"deviations"`
}

// coreSignals are the metrics a patient is expected to report every window;
// the confidence completeness term counts how many actually arrived.
var coreSignals = []string{MetricPain, MetricTemperature, MetricSteps, MetricAdherence}

// Compose combines per-signal deviations into a single severity verdict.
//
// The combined score is a probabilistic OR over contributions,
// 1 - prod(1 - c_i), so several moderate deviations compound toward high
// severity without any one dominating. Severity bands are inclusive at the
// lower bound: a score exactly at a threshold takes the higher severity.
func Compose(devs []Deviation, p *patient.Patient, cfg config.DetectionConfig, now time.Time) Composition {
	comp := Composition{
		PatientID:  p.ID,
		Timestamp:  now,
		Deviations: devs,
	}

	survive := 1.0
	for _, d := range devs {
		survive *= 1 - clamp01(d.Contribution)
	}
	comp.CombinedScore = 1 - survive

	policy := cfg.ForSurgery(p.SurgeryType)
	switch {
	case comp.CombinedScore >= policy.RedThreshold:
		comp.Severity = SeverityRed
	case comp.CombinedScore >= policy.YellowThreshold:
		comp.Severity = SeverityYellow
	default:
		comp.Severity = SeverityGreen
	}

	comp.Confidence = confidence(devs, p)
	comp.ConfInterval = (1 - comp.Confidence) * cfg.ConfidenceIntervalScale

	ranked := RankDeviations(devs)
	if len(ranked) > 0 {
		comp.DominantSignal = ranked[0].Metric
	}

	top := ranked
	if len(top) > maxReasonFactors {
		top = top[:maxReasonFactors]
	}
	evidence := make([]string, 0, len(top))
	for _, d := range top {
		evidence = append(evidence, d.Evidence)
	}
	comp.Reason = strings.Join(evidence, "; ")

	comp.Action = recommendAction(comp.Severity, p.RiskTier)
	return comp
}

// recommendAction maps (severity, risk tier) to the suggested response.
// Pure function, no side effects.
func recommendAction(severity Severity, tier patient.RiskTier) RecommendedAction {
	switch severity {
	case SeverityRed:
		return ActionNurseCall
	case SeverityYellow:
		if tier == patient.RiskTierHigh {
			return ActionPhysicianEscalate
		}
		return ActionNurseCall
	case SeverityGreen:
		return ActionMonitor
	}
	return ActionMonitor
}

// confidence is independent of severity: completeness of the expected core
// signals in this batch, discounted by how reliably the patient has been
// reporting over the recent window.
func confidence(devs []Deviation, p *patient.Patient) float64 {
	present := map[string]bool{}
	for _, d := range devs {
		present[d.Metric] = true
	}
	core := 0
	for _, m := range coreSignals {
		if present[m] {
			core++
		}
	}
	completeness := float64(core) / float64(len(coreSignals))

	recency := p.Engagement.ResponseRate
	if recency <= 0 || recency > 1 {
		// no engagement history yet; don't penalize new patients
		recency = 1.0
	}

	return math.Round(completeness*recency*100) / 100
}

const maxReasonFactors = 3

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
