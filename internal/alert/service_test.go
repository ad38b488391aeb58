package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/recoverguard/platform/internal/audit"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

func testService(t *testing.T) (*Service, *patient.Patient, *audit.MemoryRepository) {
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
		Name:          "Robert Okafor",
		SurgeryType:   "TKR",
		DischargeDate: time.Now().AddDate(0, 0, -4),
		RiskTier:      patient.RiskTierMedium,
		Baseline: patient.Baseline{
			PainMean: 3.2, PainStd: 0.8,
			StepsExpected: []int{500, 800, 1100, 1500},
			TempMean:      98.4, TempStd: 0.3,
		},
	}
	if err := patients.Save(context.Background(), p); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	auditRepo := audit.NewMemoryRepository()
	svc := NewService(
		NewMemoryRepository(),
		auditRepo,
		patients,
		detection.NewPolicyEngine(cfg),
		nil,
		nil,
	)
	return svc, p, auditRepo
}

func redComposition(patientID types.ID, at time.Time) detection.Composition {
	return detection.Composition{
		PatientID:      patientID,
		Timestamp:      at,
		Severity:       detection.SeverityRed,
		CombinedScore:  0.8,
		Confidence:     1,
		Reason:         "pain and temperature both elevated",
		Action:         detection.ActionNurseCall,
		DominantSignal: detection.MetricPain,
		Deviations: []detection.Deviation{
			{Metric: detection.MetricPain, Contribution: 0.5},
			{Metric: detection.MetricTemperature, Contribution: 0.3},
		},
	}
}

func TestAdmitRepeatDeviationsMergeIntoOneAlert(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var firstID types.ID
	for i := 0; i < 4; i++ {
		a, err := svc.Admit(ctx, redComposition(p.ID, now.Add(time.Duration(i)*time.Hour)), p)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if a == nil {
			t.Fatalf("admit %d suppressed a red composition", i)
		}
		if i == 0 {
			firstID = a.ID
			continue
		}
		if a.ID != firstID {
			t.Fatalf("admit %d created new alert %v, want merge into %v", i, a.ID, firstID)
		}
		if a.RepeatCount != i {
			t.Errorf("admit %d repeat count = %d, want %d", i, a.RepeatCount, i)
		}
	}

	count, _ := svc.alerts.Count(ctx)
	if count != 1 {
		t.Errorf("alert count = %d, want 1", count)
	}
}

func TestAdmitConcurrentSubmissionsDedupe(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const submissions = 8
	var wg sync.WaitGroup
	errs := make(chan error, submissions)
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Admit(ctx, redComposition(p.ID, now), p)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
	}

	// all submissions describe the same deterioration: one alert, merged
	count, _ := svc.alerts.Count(ctx)
	if count != 1 {
		t.Fatalf("alert count = %d, want 1", count)
	}
	alerts, _ := svc.ListOpen(ctx, nil)
	if alerts[0].RepeatCount != submissions-1 {
		t.Errorf("repeat count = %d, want %d", alerts[0].RepeatCount, submissions-1)
	}
}

func TestAdmitSuppressedYellowSurfacesNothing(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()

	comp := redComposition(p.ID, time.Now())
	comp.Severity = detection.SeverityYellow
	comp.CombinedScore = 0.5

	a, err := svc.Admit(ctx, comp, p)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if a != nil {
		t.Fatalf("first yellow reading surfaced alert %v, want suppression", a.ID)
	}

	count, _ := svc.alerts.Count(ctx)
	if count != 0 {
		t.Errorf("alert count = %d, want 0", count)
	}
}

func TestApplyActionDismissThenEscalate(t *testing.T) {
	svc, p, auditRepo := testService(t)
	ctx := context.Background()

	a, err := svc.Admit(ctx, redComposition(p.ID, time.Now().UTC()), p)
	if err != nil || a == nil {
		t.Fatalf("admit: %v %v", a, err)
	}

	nurse := types.NewID()
	entry, err := svc.ApplyAction(ctx, a.ID, ActionRequest{
		Action: ReviewerDismiss, ActorID: nurse, Role: "nurse", Note: "patient recovering well",
	})
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if entry.PreviousState != string(StatusOpen) {
		t.Errorf("audit previous state = %q, want open", entry.PreviousState)
	}

	_, err = svc.ApplyAction(ctx, a.ID, ActionRequest{
		Action: ReviewerEscalate, ActorID: nurse, Role: "nurse",
	})
	if !apperrors.Is(err, apperrors.ErrAlreadyResolved) {
		t.Fatalf("second action error = %v, want already resolved", err)
	}

	got, _ := svc.Get(ctx, a.ID)
	if got.Status != StatusResolved {
		t.Errorf("status = %v, want resolved unchanged", got.Status)
	}

	entries, _ := auditRepo.List(ctx, audit.ListFilter{})
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want exactly 1 from the successful action", len(entries))
	}
}

func TestApplyActionUnknownAlert(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.ApplyAction(context.Background(), types.NewID(), ActionRequest{
		Action: ReviewerCall, ActorID: types.NewID(), Role: "nurse",
	})
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

// failingAuditRepo rejects every append to exercise the write-ahead contract
type failingAuditRepo struct {
	*audit.MemoryRepository
}

func (f *failingAuditRepo) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store unavailable")
}

func TestApplyActionWriteAheadAuditFailure(t *testing.T) {
	svc, p, _ := testService(t)
	svc.auditLog = &failingAuditRepo{audit.NewMemoryRepository()}
	ctx := context.Background()

	a, err := svc.Admit(ctx, redComposition(p.ID, time.Now().UTC()), p)
	if err != nil || a == nil {
		t.Fatalf("admit: %v %v", a, err)
	}

	_, err = svc.ApplyAction(ctx, a.ID, ActionRequest{
		Action: ReviewerDismiss, ActorID: types.NewID(), Role: "nurse",
	})
	if err == nil {
		t.Fatal("action succeeded despite audit failure")
	}

	// the status change must not be visible
	got, _ := svc.Get(ctx, a.ID)
	if got.Status != StatusOpen {
		t.Errorf("status = %v, want open after failed audit append", got.Status)
	}
}

func TestListOpenOrdering(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seed := []struct {
		severity detection.Severity
		signal   string
		offset   time.Duration
	}{
		{detection.SeverityYellow, detection.MetricSteps, 0},
		{detection.SeverityRed, detection.MetricPain, time.Hour},
		{detection.SeverityYellow, detection.MetricTemperature, 2 * time.Hour},
		{detection.SeverityRed, detection.MetricAdherence, 3 * time.Hour},
	}
	for _, s := range seed {
		a := NewFromComposition(detection.Composition{
			PatientID:      p.ID,
			Timestamp:      base.Add(s.offset),
			Severity:       s.severity,
			DominantSignal: s.signal,
		})
		if err := svc.alerts.Save(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	alerts, err := svc.ListOpen(ctx, nil)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(alerts) != 4 {
		t.Fatalf("len = %d, want 4", len(alerts))
	}

	// reds first (newest red leading), then yellows newest-first
	wantSignals := []string{
		detection.MetricAdherence, detection.MetricPain,
		detection.MetricTemperature, detection.MetricSteps,
	}
	for i, want := range wantSignals {
		if alerts[i].DominantSignal != want {
			t.Errorf("position %d = %s (%s), want %s",
				i, alerts[i].DominantSignal, alerts[i].Severity, want)
		}
	}
}

func TestListOpenMergedAlertBubblesUp(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()
	base := time.Now().UTC()

	older := NewFromComposition(detection.Composition{
		PatientID: p.ID, Timestamp: base,
		Severity: detection.SeverityYellow, DominantSignal: detection.MetricSteps,
	})
	newer := NewFromComposition(detection.Composition{
		PatientID: p.ID, Timestamp: base.Add(time.Hour),
		Severity: detection.SeverityYellow, DominantSignal: detection.MetricTemperature,
	})
	for _, a := range []*Alert{older, newer} {
		if err := svc.alerts.Save(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	// a fresh reading merges into the older alert and makes it the most
	// recently active one
	older.Merge(detection.Composition{
		PatientID: p.ID, Timestamp: base.Add(2 * time.Hour),
		Severity: detection.SeverityYellow, DominantSignal: detection.MetricSteps,
	})
	if err := svc.alerts.Save(ctx, older); err != nil {
		t.Fatalf("save merge: %v", err)
	}

	alerts, err := svc.ListOpen(ctx, nil)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if alerts[0].ID != older.ID {
		t.Errorf("queue head = %s, want the merged alert to lead its band", alerts[0].DominantSignal)
	}
}

func TestExplainThroughService(t *testing.T) {
	svc, p, _ := testService(t)
	ctx := context.Background()

	a, err := svc.Admit(ctx, redComposition(p.ID, time.Now().UTC()), p)
	if err != nil || a == nil {
		t.Fatalf("admit: %v %v", a, err)
	}

	result, err := svc.Explain(ctx, a.ID)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if len(result.RankedFactors) != 2 {
		t.Fatalf("ranked factors = %d, want 2", len(result.RankedFactors))
	}
	if result.RankedFactors[0].Metric != detection.MetricPain {
		t.Errorf("top factor = %s, want pain_score", result.RankedFactors[0].Metric)
	}

	if _, err := svc.Explain(ctx, types.NewID()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("explain unknown alert error = %v, want not found", err)
	}
}
