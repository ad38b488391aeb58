package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/recoverguard/platform/internal/audit"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/events"
	"github.com/recoverguard/platform/internal/shared/metrics"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Publisher is the slice of the event bus the service needs. Nil-safe via
// the service's publish helper so tests and dev mode can run without a bus.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Notifier dispatches the recommended action for a surfaced alert
type Notifier interface {
	Notify(ctx context.Context, a *Alert, p *patient.Patient)
}

// ActionRequest is a reviewer's triage decision on an alert
type ActionRequest struct {
	Action  ReviewerAction `json:"action"`
	ActorID types.ID       `json:"actor_id"`
	Role    string         `json:"actor_role"`
	Note    string         `json:"note"`
}

// Service owns the alert lifecycle: admission of composed deviations and
// reviewer-driven state transitions, each audited before it becomes visible.
//
// All writes against one alert id are serialized through a per-id lock, so a
// reviewer action racing a merge (or another reviewer) is linearized and the
// first writer wins. Admissions are additionally serialized per patient so
// concurrent submissions see each other's open alerts.
type Service struct {
	alerts   Repository
	auditLog audit.Repository
	patients patient.Repository
	engine   *detection.PolicyEngine
	bus      Publisher
	notifier Notifier

	mu     sync.Mutex
	locks  map[types.ID]*sync.Mutex
	admits map[types.ID]*sync.Mutex
}

func NewService(
	alerts Repository,
	auditLog audit.Repository,
	patients patient.Repository,
	engine *detection.PolicyEngine,
	bus Publisher,
	notifier Notifier,
) *Service {
	return &Service{
		alerts:   alerts,
		auditLog: auditLog,
		patients: patients,
		engine:   engine,
		bus:      bus,
		notifier: notifier,
		locks:    make(map[types.ID]*sync.Mutex),
		admits:   make(map[types.ID]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing writes for one alert id
func (s *Service) lockFor(id types.ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// admitLockFor returns the mutex serializing admissions for one patient.
// Without it, two concurrent submissions could both read an empty open set
// and create duplicate alerts for the same deterioration.
func (s *Service) admitLockFor(patientID types.ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.admits[patientID]
	if !ok {
		l = &sync.Mutex{}
		s.admits[patientID] = l
	}
	return l
}

// Admit runs a composed deviation through the temporal policy and applies
// the decision: create a new alert, merge into the open one, or suppress.
// Returns the surfaced alert, or nil when suppressed.
func (s *Service) Admit(ctx context.Context, comp detection.Composition, p *patient.Patient) (*Alert, error) {
	l := s.admitLockFor(comp.PatientID)
	l.Lock()
	defer l.Unlock()

	open, err := s.openRefs(ctx, comp.PatientID)
	if err != nil {
		return nil, err
	}

	decision := s.engine.Admit(comp, open, p.SurgeryType)
	metrics.RecordAdmissionDecision(string(decision.Kind))

	switch decision.Kind {
	case detection.DecisionSuppress:
		return nil, nil

	case detection.DecisionMerge:
		return s.merge(ctx, decision.MergeTarget, comp, p)

	case detection.DecisionCreate:
		return s.create(ctx, comp, p)
	}

	return nil, apperrors.Internal(nil)
}

func (s *Service) openRefs(ctx context.Context, patientID types.ID) ([]detection.OpenAlertRef, error) {
	status := StatusOpen
	alerts, err := s.alerts.List(ctx, ListFilter{PatientID: &patientID, Status: &status})
	if err != nil {
		return nil, err
	}

	refs := make([]detection.OpenAlertRef, 0, len(alerts))
	for _, a := range alerts {
		refs = append(refs, detection.OpenAlertRef{
			ID:             a.ID,
			DominantSignal: a.DominantSignal,
			Severity:       a.Severity,
		})
	}
	return refs, nil
}

func (s *Service) create(ctx context.Context, comp detection.Composition, p *patient.Patient) (*Alert, error) {
	a := NewFromComposition(comp)
	if err := s.alerts.Save(ctx, a); err != nil {
		return nil, err
	}

	metrics.RecordAlertCreated(string(a.Severity))
	s.publish(ctx, events.NewEvent(events.TypeAlertCreated, "alert", a))
	if s.notifier != nil {
		s.notifier.Notify(ctx, a, p)
	}
	return a, nil
}

func (s *Service) merge(ctx context.Context, targetID types.ID, comp detection.Composition, p *patient.Patient) (*Alert, error) {
	l := s.lockFor(targetID)
	l.Lock()
	defer l.Unlock()

	a, err := s.alerts.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		// the alert closed between the policy decision and the merge; the
		// episode starts over rather than reopening a terminal alert
		return s.create(ctx, comp, p)
	}

	escalated := comp.Severity.Rank() < a.Severity.Rank()
	a.Merge(comp)
	if err := s.alerts.Save(ctx, a); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewEvent(events.TypeAlertMerged, "alert", a))
	if escalated && s.notifier != nil {
		s.notifier.Notify(ctx, a, p)
	}
	return a, nil
}

// ApplyAction executes a reviewer action against an alert. The audit entry is
// appended before the status change is saved (write-ahead): if the append
// fails, the alert is untouched and the action reports failure.
func (s *Service) ApplyAction(ctx context.Context, id types.ID, req ActionRequest) (*audit.Entry, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	a, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := a.Status
	if err := a.Apply(req.Action, time.Now().UTC()); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(
		req.ActorID, req.Role, string(req.Action),
		&id, a.PatientID, req.Note, string(previous),
	)
	if err := s.auditLog.Append(ctx, entry); err != nil {
		return nil, apperrors.Wrap(err, "audit append failed, action not applied")
	}
	metrics.RecordAuditEntry()

	if err := s.alerts.Save(ctx, a); err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(req.Action), string(a.Status))
	s.publish(ctx, events.NewEvent(events.TypeAlertActioned, "alert", map[string]any{
		"alert_id": id,
		"action":   req.Action,
		"from":     previous,
		"to":       a.Status,
	}).WithActor(req.ActorID, req.Role))

	return entry, nil
}

// Get returns one alert
func (s *Service) Get(ctx context.Context, id types.ID) (*Alert, error) {
	return s.alerts.Get(ctx, id)
}

// List returns alerts in review queue order
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Alert, error) {
	return s.alerts.List(ctx, filter)
}

// ListOpen returns the open review queue, optionally filtered by severity
func (s *Service) ListOpen(ctx context.Context, severity *detection.Severity) ([]*Alert, error) {
	status := StatusOpen
	return s.alerts.List(ctx, ListFilter{Status: &status, Severity: severity})
}

// Explain renders the factor breakdown for an alert
func (s *Service) Explain(ctx context.Context, id types.ID) (*detection.ExplainResult, error) {
	a, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.Get(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}

	result := detection.Explain(a.Deviations, a.Confidence, a.ConfInterval, a.Severity, p.RiskTier)
	return &result, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		// event delivery is best-effort; the repositories hold the truth
		log.Printf("event publish failed: type=%s err=%v", event.Type, err)
	}
}
