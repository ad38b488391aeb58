package alert

import (
	"time"

	"github.com/recoverguard/platform/internal/detection"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Status is the lifecycle state of an alert. Open is the only non-terminal
// state: once reviewed, resolved or escalated, the alert never reopens (a new
// qualifying deviation creates a distinct alert instead).
type Status string

const (
	StatusOpen      Status = "open"
	StatusReviewed  Status = "reviewed"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusReviewed, StatusResolved, StatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no further reviewer action is permitted
func (s Status) Terminal() bool {
	return s != StatusOpen && s.Valid()
}

// ReviewerAction is a triage action taken on an open alert
type ReviewerAction string

const (
	ReviewerCall     ReviewerAction = "call"
	ReviewerMessage  ReviewerAction = "message"
	ReviewerEscalate ReviewerAction = "escalate"
	ReviewerDismiss  ReviewerAction = "dismiss"
)

// Valid reports whether a is a known reviewer action
func (a ReviewerAction) Valid() bool {
	switch a {
	case ReviewerCall, ReviewerMessage, ReviewerEscalate, ReviewerDismiss:
		return true
	}
	return false
}

// statusFor maps a reviewer action to the state it transitions into.
// Exhaustive over ReviewerAction; unknown actions are rejected by the caller.
func statusFor(a ReviewerAction) Status {
	switch a {
	case ReviewerCall, ReviewerMessage:
		return StatusReviewed
	case ReviewerEscalate:
		return StatusEscalated
	case ReviewerDismiss:
		return StatusResolved
	}
	return ""
}

// Alert is a surfaced deviation pending (or past) nurse triage.
// Never deleted: resolved and dismissed alerts remain queryable history.
type Alert struct {
	ID types.ID `json:"alert_id"`
	// Seq preserves creation order across alerts (assigned by the repository)
	Seq       int64     `json:"-"`
	PatientID types.ID  `json:"patient_id"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`

	Severity          detection.Severity          `json:"severity"`
	Status            Status                      `json:"status"`
	CombinedScore     float64                     `json:"combined_score"`
	Confidence        float64                     `json:"confidence"`
	ConfInterval      float64                     `json:"confidence_interval"`
	Reason            string                      `json:"reason"`
	RecommendedAction detection.RecommendedAction `json:"recommended_action"`
	RepeatCount       int                         `json:"repeat_count"`
	DominantSignal    string                      `json:"dominant_signal"`
	Deviations        []detection.Deviation       `json:"deviations"`
}

// NewFromComposition creates an open alert from an admitted composition
func NewFromComposition(comp detection.Composition) *Alert {
	return &Alert{
		ID:                types.NewID(),
		PatientID:         comp.PatientID,
		CreatedAt:         comp.Timestamp,
		UpdatedAt:         comp.Timestamp,
		Severity:          comp.Severity,
		Status:            StatusOpen,
		CombinedScore:     comp.CombinedScore,
		Confidence:        comp.Confidence,
		ConfInterval:      comp.ConfInterval,
		Reason:            comp.Reason,
		RecommendedAction: comp.Action,
		RepeatCount:       0,
		DominantSignal:    comp.DominantSignal,
		Deviations:        comp.Deviations,
	}
}

// Apply transitions the alert per a reviewer action. Terminal states reject
// every action; unknown actions are rejected without state change.
func (a *Alert) Apply(action ReviewerAction, now time.Time) error {
	if a.Status.Terminal() {
		return apperrors.AlreadyResolved(string(a.Status))
	}
	if !action.Valid() {
		return apperrors.InvalidTransition(string(action), string(a.Status))
	}

	a.Status = statusFor(action)
	a.UpdatedAt = now
	return nil
}

// Merge folds a repeat composition into this open alert: the repeat counter
// increments, score and reason refresh to the latest computation, and
// severity only ever escalates.
func (a *Alert) Merge(comp detection.Composition) {
	a.RepeatCount++
	a.CombinedScore = comp.CombinedScore
	a.Confidence = comp.Confidence
	a.ConfInterval = comp.ConfInterval
	a.Reason = comp.Reason
	a.Deviations = comp.Deviations
	a.UpdatedAt = comp.Timestamp

	if comp.Severity.Rank() < a.Severity.Rank() {
		a.Severity = comp.Severity
		a.RecommendedAction = comp.Action
	}
}

// ListFilter narrows alert queries
type ListFilter struct {
	PatientID *types.ID
	Severity  *detection.Severity
	Status    *Status
	Limit     int
	Offset    int
}
