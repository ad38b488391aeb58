package detection

import (
	"fmt"
	"math"
	"time"

	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Metric names accepted by the evaluator. Unknown names are still evaluated,
// just with the fixed fallback contribution.
const (
	MetricPain        = "pain_score"
	MetricTemperature = "temperature"
	MetricSteps       = "steps"
	MetricAdherence   = "medication_adherence"
	MetricWoundPhoto  = "wound_photo_flag"
	MetricVoice       = "voice_flag"
)

// Per-metric scoring constants. The z-score divisors and caps are tuned so
// that no single signal can push the combined score into the red band on its
// own; reaching red requires corroboration from at least two signals.
const (
	painZDivisor = 5.0
	painCap      = 0.5

	tempZDivisor = 4.0
	tempCap      = 0.3

	stepsWeight     = 0.4
	adherenceWeight = 0.3

	// stdFloor guards the z-score against a zero or missing std
	stdFloor = 0.01

	// fallbackContribution is assigned to metrics with no baseline at all
	fallbackContribution = 0.1
)

// Reading is one incoming metric value for a patient. Ephemeral: it is
// consumed by the evaluator and not persisted outside the alert it produces.
type Reading struct {
	PatientID types.ID  `json:"patient_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Deviation is the evaluator's verdict on one reading: a contribution score
// in [0,1] and the evidence text shown to reviewers.
type Deviation struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Evidence     string  `json:"evidence"`
}

// Evaluate scores one reading against the patient's baseline.
//
// Metrics with a mean/std baseline (pain, temperature) score by z-score;
// metrics with an expected value but no spread (steps, adherence) score by
// deficit below expected; anything else degrades to a fixed low contribution
// instead of failing. Missing baseline fields are never an error.
func Evaluate(metric string, value float64, baseline patient.Baseline, dayPostDischarge int) Deviation {
	switch metric {
	case MetricPain:
		return zScoreDeviation(metric, value, baseline.PainMean, baseline.PainStd, painZDivisor, painCap)

	case MetricTemperature:
		return zScoreDeviation(metric, value, baseline.TempMean, baseline.TempStd, tempZDivisor, tempCap)

	case MetricSteps:
		expected := baseline.ExpectedSteps(dayPostDischarge)
		if expected <= 0 {
			return unknownDeviation(metric, value)
		}
		return deficitDeviation(metric, value, float64(expected), stepsWeight)

	case MetricAdherence:
		// adherence is a fraction of doses taken; expected is full adherence
		return deficitDeviation(metric, value, 1.0, adherenceWeight)

	default:
		return unknownDeviation(metric, value)
	}
}

func zScoreDeviation(metric string, value, mean, std, divisor, maxContribution float64) Deviation {
	if mean == 0 && std == 0 {
		// no baseline recorded for this metric
		return unknownDeviation(metric, value)
	}

	z := (value - mean) / math.Max(std, stdFloor)
	contribution := math.Min(math.Abs(z)/divisor, maxContribution)

	return Deviation{
		Metric:       metric,
		Value:        value,
		Contribution: contribution,
		Evidence: fmt.Sprintf("%s %.1f is %.1f std devs from baseline %.1f",
			metric, value, z, mean),
	}
}

func deficitDeviation(metric string, value, expected, weight float64) Deviation {
	deficit := 1 - value/expected
	if deficit < 0 {
		deficit = 0
	}

	return Deviation{
		Metric:       metric,
		Value:        value,
		Contribution: deficit * weight,
		Evidence: fmt.Sprintf("%s %.0f is %.0f%% below expected %.0f",
			metric, value, deficit*100, expected),
	}
}

func unknownDeviation(metric string, value float64) Deviation {
	return Deviation{
		Metric:       metric,
		Value:        value,
		Contribution: fallbackContribution,
		Evidence:     fmt.Sprintf("%s: %v", metric, value),
	}
}

// EvaluateAll scores a batch of readings for one patient
func EvaluateAll(readings []Reading, p *patient.Patient, now time.Time) []Deviation {
	day := p.DaysPostDischarge(now)
	devs := make([]Deviation, 0, len(readings))
	for _, r := range readings {
		devs = append(devs, Evaluate(r.Metric, r.Value, p.Baseline, day))
	}
	return devs
}
