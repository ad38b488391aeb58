package detection

import (
	"sync"
	"time"

	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/types"
)

// DecisionKind is the temporal policy verdict on a composition
type DecisionKind string

const (
	DecisionCreate   DecisionKind = "create"
	DecisionMerge    DecisionKind = "merge"
	DecisionSuppress DecisionKind = "suppress"
)

// Decision is the admission outcome; MergeTarget is set only for merges
type Decision struct {
	Kind        DecisionKind
	MergeTarget types.ID
}

// OpenAlertRef is the slice of an open alert the policy engine needs for
// deduplication: who it belongs to and which signal dominated it.
type OpenAlertRef struct {
	ID             types.ID
	DominantSignal string
	Severity       Severity
}

// episode tracks one patient's current run of abnormal readings
type episode struct {
	dominantSignal string
	consecutive    int
	firstAbnormal  time.Time
}

// PolicyEngine decides whether a composed deviation becomes a new alert,
// merges into an existing one, or is suppressed.
//
// A yellow composition is admitted only once the same dominant signal has
// been abnormal for min-consecutive readings, or the abnormal episode has
// persisted past the hysteresis window. Red admits immediately (patient
// safety override) but still dedupes against an open alert for the same
// patient and dominant signal. A green composition ends the episode.
type PolicyEngine struct {
	cfg config.DetectionConfig

	mu       sync.Mutex
	episodes map[types.ID]*episode
}

func NewPolicyEngine(cfg config.DetectionConfig) *PolicyEngine {
	return &PolicyEngine{
		cfg:      cfg,
		episodes: make(map[types.ID]*episode),
	}
}

// Admit applies the temporal policy to one composition. openAlerts must be
// the caller's current open alerts for the composition's patient.
func (e *PolicyEngine) Admit(comp Composition, openAlerts []OpenAlertRef, surgeryType string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if comp.Severity == SeverityGreen {
		// a normal reading ends the abnormal episode
		delete(e.episodes, comp.PatientID)
		return Decision{Kind: DecisionSuppress}
	}

	// dedupe first: worsening or repeating conditions fold into the open
	// alert instead of stacking new ones
	for _, open := range openAlerts {
		if open.DominantSignal == comp.DominantSignal {
			return Decision{Kind: DecisionMerge, MergeTarget: open.ID}
		}
	}

	ep := e.episodes[comp.PatientID]
	if ep == nil || ep.dominantSignal != comp.DominantSignal {
		// first abnormal reading, or the dominant signal changed mid-episode
		ep = &episode{
			dominantSignal: comp.DominantSignal,
			firstAbnormal:  comp.Timestamp,
		}
		e.episodes[comp.PatientID] = ep
	}
	ep.consecutive++

	policy := e.cfg.ForSurgery(surgeryType)

	if comp.Severity == SeverityRed {
		delete(e.episodes, comp.PatientID)
		return Decision{Kind: DecisionCreate}
	}

	sustained := ep.consecutive >= policy.MinConsecutiveAbnormal
	persisted := comp.Timestamp.Sub(ep.firstAbnormal) >= policy.Hysteresis()
	if sustained || persisted {
		delete(e.episodes, comp.PatientID)
		return Decision{Kind: DecisionCreate}
	}

	return Decision{Kind: DecisionSuppress}
}

// Reset clears the episode state for a patient. Used when a patient record
// is re-imported with fresh baselines.
func (e *PolicyEngine) Reset(patientID types.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.episodes, patientID)
}
