package ehr

import (
	"context"
	"testing"
	"time"

	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/types"
)

func feedRow(number string) dischargeRow {
	return dischargeRow{
		PatientNumber: number,
		Name:          "Grace Lindqvist",
		Age:           67,
		Gender:        "female",
		SurgeryType:   "TKR",
		DischargeDate: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		RiskTier:      2,
		PainMean:      3.1,
		PainStd:       0.7,
		TempMean:      98.3,
		TempStd:       0.3,
		StepCurveJSON: "[400, 700, 1000, 1400]",
	}
}

func TestImportPatientCreates(t *testing.T) {
	patients := patient.NewMemoryRepository()
	a := New(config.EHRConfig{}, patients)
	ctx := context.Background()

	if err := a.importPatient(ctx, feedRow("H-1042")); err != nil {
		t.Fatalf("import: %v", err)
	}

	id := types.NewDeterministicID("ehr-patient", "H-1042")
	p, err := patients.Get(ctx, id)
	if err != nil {
		t.Fatalf("get imported patient: %v", err)
	}
	if p.Baseline.PainMean != 3.1 {
		t.Errorf("pain mean = %v, want 3.1", p.Baseline.PainMean)
	}
	if len(p.Baseline.StepsExpected) != 4 || p.Baseline.StepsExpected[3] != 1400 {
		t.Errorf("step curve = %v", p.Baseline.StepsExpected)
	}
	if p.RiskTier != patient.RiskTierMedium {
		t.Errorf("risk tier = %v, want medium", p.RiskTier)
	}
}

func TestImportPatientRepeatPreservesLocalState(t *testing.T) {
	patients := patient.NewMemoryRepository()
	a := New(config.EHRConfig{}, patients)
	ctx := context.Background()

	if err := a.importPatient(ctx, feedRow("H-1042")); err != nil {
		t.Fatalf("first import: %v", err)
	}

	// consent is owned locally, not by the feed
	id := types.NewDeterministicID("ehr-patient", "H-1042")
	p, _ := patients.Get(ctx, id)
	p.SetConsent(patient.ConsentVoice, true, time.Now())
	patients.Save(ctx, p)

	// the re-import refreshes baselines without losing consent
	updated := feedRow("H-1042")
	updated.PainMean = 3.5
	if err := a.importPatient(ctx, updated); err != nil {
		t.Fatalf("second import: %v", err)
	}

	p, _ = patients.Get(ctx, id)
	if p.Baseline.PainMean != 3.5 {
		t.Errorf("pain mean = %v, want refreshed 3.5", p.Baseline.PainMean)
	}
	if !p.Consent.Voice {
		t.Error("re-import dropped voice consent")
	}

	count, _ := patients.Count(ctx)
	if count != 1 {
		t.Errorf("patient count = %d, want 1 after repeat import", count)
	}
}

func TestStopWaitsWithoutHoldingLock(t *testing.T) {
	a := New(config.EHRConfig{}, patient.NewMemoryRepository())
	ctx, cancel := context.WithCancel(context.Background())

	a.running = true
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()
		// mirror a poll in flight: the worker needs the mutex on its way out
		a.mu.Lock()
		a.lastPoll = time.Now()
		a.mu.Unlock()
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.running {
		t.Error("adapter still marked running after stop")
	}
}

func TestImportPatientInvalidRiskTierDefaults(t *testing.T) {
	patients := patient.NewMemoryRepository()
	a := New(config.EHRConfig{}, patients)

	row := feedRow("H-2000")
	row.RiskTier = 9
	if err := a.importPatient(context.Background(), row); err != nil {
		t.Fatalf("import: %v", err)
	}

	p, _ := patients.Get(context.Background(), types.NewDeterministicID("ehr-patient", "H-2000"))
	if p.RiskTier != patient.RiskTierLow {
		t.Errorf("risk tier = %v, want low fallback", p.RiskTier)
	}
}
