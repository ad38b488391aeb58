package notification

import (
	"context"
	"testing"
	"time"

	"github.com/recoverguard/platform/internal/alert"
	"github.com/recoverguard/platform/internal/detection"
	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/types"
)

func testAlert(action detection.RecommendedAction) *alert.Alert {
	return &alert.Alert{
		ID:                types.NewID(),
		PatientID:         types.NewID(),
		Severity:          detection.SeverityRed,
		Status:            alert.StatusOpen,
		Reason:            "pain_score 9.0 is 7.2 std devs from baseline 3.2",
		RecommendedAction: action,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotifyRoutesByRecommendedAction(t *testing.T) {
	nurse := NewLogProvider()
	physician := NewLogProvider()
	svc := NewService(map[Channel]Provider{
		ChannelNurseQueue:    nurse,
		ChannelPhysicianPage: physician,
	}, config.NotifyConfig{Workers: 1, BufferSize: 8})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	p := &patient.Patient{ID: types.NewID(), Name: "Ana Petrov"}

	svc.Notify(ctx, testAlert(detection.ActionNurseCall), p)
	svc.Notify(ctx, testAlert(detection.ActionPhysicianEscalate), p)
	svc.Notify(ctx, testAlert(detection.ActionMonitor), p)

	waitFor(t, func() bool {
		return len(nurse.Sent()) == 1 && len(physician.Sent()) == 1
	})

	if got := nurse.Sent()[0]; got.Channel != ChannelNurseQueue {
		t.Errorf("nurse dispatch channel = %v", got.Channel)
	}
	if got := physician.Sent()[0]; got.Channel != ChannelPhysicianPage {
		t.Errorf("physician dispatch channel = %v", got.Channel)
	}

	// monitor produced no dispatch at all
	if len(svc.History()) != 2 {
		t.Errorf("history = %d dispatches, want 2", len(svc.History()))
	}
}

func TestNotifyMissingProviderFails(t *testing.T) {
	svc := NewService(map[Channel]Provider{}, config.NotifyConfig{Workers: 1, BufferSize: 8})
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	p := &patient.Patient{ID: types.NewID(), Name: "Ana Petrov"}
	svc.Notify(ctx, testAlert(detection.ActionNurseCall), p)

	waitFor(t, func() bool {
		h := svc.History()
		return len(h) == 1 && h[0].Status == StatusFailed
	})
}
