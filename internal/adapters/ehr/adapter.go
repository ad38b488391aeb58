// Package ehr polls the hospital EHR discharge feed (SQL Server) and imports
// patient records with their recovery baselines. It is the only writer of
// baseline data; the detection core treats baselines as read-only.
package ehr

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/recoverguard/platform/internal/patient"
	"github.com/recoverguard/platform/internal/shared/config"
	"github.com/recoverguard/platform/internal/shared/metrics"
	"github.com/recoverguard/platform/internal/shared/types"
)

// dischargeRow is one row of the hospital's discharge feed view
type dischargeRow struct {
	PatientNumber string
	Name          string
	Age           int
	Gender        string
	Phone         string
	SurgeryType   string
	DischargeDate time.Time
	RiskTier      int
	PainMean      float64
	PainStd       float64
	TempMean      float64
	TempStd       float64
	StepCurveJSON string
}

// Adapter imports discharged surgical patients from the EHR on a poll loop
type Adapter struct {
	cfg      config.EHRConfig
	patients patient.Repository

	db       *sql.DB
	mu       sync.RWMutex
	running  bool
	lastPoll time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg config.EHRConfig, patients patient.Repository) *Adapter {
	return &Adapter{cfg: cfg, patients: patients}
}

// Start opens the connection and begins polling the discharge feed
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("ehr adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.cfg.Host, a.cfg.Port, a.cfg.Database, a.cfg.User, a.cfg.Password)
	if a.cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open ehr database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping ehr database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)
	return nil
}

// Stop halts polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// wait without holding the mutex; an in-flight poll needs it to finish
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		a.db.Close()
	}
	a.running = false
	return nil
}

// Health checks connectivity to the EHR
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("ehr adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	// import immediately on startup, then on the interval
	a.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Adapter) poll(ctx context.Context) {
	a.mu.Lock()
	since := a.lastPoll
	a.lastPoll = time.Now()
	a.mu.Unlock()

	rows, err := a.fetchDischarges(ctx, since)
	if err != nil {
		fmt.Printf("Warning: EHR discharge poll failed: %v\n", err)
		return
	}

	for _, row := range rows {
		if err := a.importPatient(ctx, row); err != nil {
			fmt.Printf("Warning: EHR import for %s failed: %v\n", row.PatientNumber, err)
			continue
		}
		metrics.RecordBaselineImported()
	}
}

func (a *Adapter) fetchDischarges(ctx context.Context, since time.Time) ([]dischargeRow, error) {
	query := `
		SELECT PatientNumber, Name, Age, Gender, Phone, SurgeryType,
		       DischargeDate, RiskTier, PainMean, PainStd, TempMean, TempStd,
		       StepCurve
		FROM dbo.SurgicalDischargeFeed
		WHERE UpdatedAt > @since
		ORDER BY UpdatedAt ASC`

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, fmt.Errorf("failed to query discharge feed: %w", err)
	}
	defer rows.Close()

	var out []dischargeRow
	for rows.Next() {
		var r dischargeRow
		err := rows.Scan(
			&r.PatientNumber, &r.Name, &r.Age, &r.Gender, &r.Phone,
			&r.SurgeryType, &r.DischargeDate, &r.RiskTier,
			&r.PainMean, &r.PainStd, &r.TempMean, &r.TempStd,
			&r.StepCurveJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discharge row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// importPatient upserts one discharged patient. The platform id derives
// deterministically from the hospital patient number, so repeat imports of
// the same patient update the existing record.
func (a *Adapter) importPatient(ctx context.Context, row dischargeRow) error {
	id := types.NewDeterministicID("ehr-patient", row.PatientNumber)

	var curve []int
	if row.StepCurveJSON != "" {
		if err := json.Unmarshal([]byte(row.StepCurveJSON), &curve); err != nil {
			return fmt.Errorf("invalid step curve: %w", err)
		}
	}

	tier := patient.RiskTier(row.RiskTier)
	if tier < patient.RiskTierLow || tier > patient.RiskTierHigh {
		tier = patient.RiskTierLow
	}

	existing, err := a.patients.Get(ctx, id)
	now := time.Now().UTC()

	p := &patient.Patient{
		ID:            id,
		Name:          row.Name,
		Age:           row.Age,
		Gender:        row.Gender,
		Phone:         row.Phone,
		SurgeryType:   row.SurgeryType,
		DischargeDate: row.DischargeDate,
		RiskTier:      tier,
		Baseline: patient.Baseline{
			PainMean:      row.PainMean,
			PainStd:       row.PainStd,
			StepsExpected: curve,
			TempMean:      row.TempMean,
			TempStd:       row.TempStd,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err == nil {
		// refresh only what the feed owns; consent and engagement are local
		p.Consent = existing.Consent
		p.Engagement = existing.Engagement
		p.Caregiver = existing.Caregiver
		p.SDoH = existing.SDoH
		p.Medications = existing.Medications
		p.CreatedAt = existing.CreatedAt
	}

	return a.patients.Save(ctx, p)
}
