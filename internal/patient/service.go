package patient

import (
	"context"
	"time"

	"github.com/recoverguard/platform/internal/audit"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/events"
	"github.com/recoverguard/platform/internal/shared/metrics"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Publisher is the slice of the event bus the patient service needs
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service owns patient reads and the consent workflow. Consent is the only
// patient field mutable through the API; baselines arrive via the EHR import.
type Service struct {
	patients Repository
	auditLog audit.Repository
	bus      Publisher
}

func NewService(patients Repository, auditLog audit.Repository, bus Publisher) *Service {
	return &Service{patients: patients, auditLog: auditLog, bus: bus}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Patient, error) {
	return s.patients.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListPatientsFilter) ([]*Patient, int, error) {
	return s.patients.List(ctx, filter)
}

// Register stores a new patient record from onboarding or the EHR feed
func (s *Service) Register(ctx context.Context, p *Patient) error {
	if p.ID.IsZero() {
		p.ID = types.NewID()
	}
	if p.RiskTier == 0 {
		p.RiskTier = RiskTierLow
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return s.patients.Save(ctx, p)
}

// SetConsent flips one consent channel for a patient. Every change writes an
// audit entry before the new consent state is saved; if the append fails the
// consent record is unchanged.
func (s *Service) SetConsent(ctx context.Context, patientID types.ID, t ConsentType, granted bool, actorID types.ID, actorRole string) error {
	switch t {
	case ConsentVoice, ConsentPhoto:
	default:
		return apperrors.BadRequest("unknown consent type")
	}

	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return err
	}

	action := audit.ActionConsentGranted
	eventType := events.TypeConsentGranted
	if !granted {
		action = audit.ActionConsentRevoked
		eventType = events.TypeConsentRevoked
	}

	entry := audit.NewEntry(actorID, actorRole, action, nil, patientID, string(t), "")
	if err := s.auditLog.Append(ctx, entry); err != nil {
		return apperrors.Wrap(err, "audit append failed, consent not changed")
	}
	metrics.RecordAuditEntry()

	p.SetConsent(t, granted, time.Now().UTC())
	if err := s.patients.Save(ctx, p); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.NewEvent(eventType, "patient", map[string]any{
			"patient_id": patientID,
			"type":       t,
			"granted":    granted,
		}).WithActor(actorID, actorRole))
	}
	return nil
}
