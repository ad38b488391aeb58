package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-backed patient repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const patientColumns = `id, name, age, gender, phone, surgery_type, discharge_date,
	risk_tier, comorbidities, caregiver, sdoh, medications, engagement,
	baseline, consent, created_at, updated_at`

// Get retrieves a patient by ID
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Patient, error) {
	query := fmt.Sprintf(`SELECT %s FROM recovery.patients WHERE id = $1`, patientColumns)

	p, err := scanPatient(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errors.NotFound("patient", id.String())
		}
		return nil, errors.Wrap(err, "failed to get patient")
	}
	return p, nil
}

// List lists patients with filters
func (r *PostgresRepository) List(ctx context.Context, filter ListPatientsFilter) ([]*Patient, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.SurgeryType != "" {
		conditions = append(conditions, fmt.Sprintf("surgery_type = $%d", argNum))
		args = append(args, filter.SurgeryType)
		argNum++
	}
	if filter.RiskTier != nil {
		conditions = append(conditions, fmt.Sprintf("risk_tier = $%d", argNum))
		args = append(args, int(*filter.RiskTier))
		argNum++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM recovery.patients %s ORDER BY name`, patientColumns, whereClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list patients")
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan patient")
		}
		patients = append(patients, p)
	}

	return patients, len(patients), nil
}

// Save upserts a patient
func (r *PostgresRepository) Save(ctx context.Context, p *Patient) error {
	comorbidities, _ := json.Marshal(p.Comorbidities)
	caregiver, _ := json.Marshal(p.Caregiver)
	sdoh, _ := json.Marshal(p.SDoH)
	medications, _ := json.Marshal(p.Medications)
	engagement, _ := json.Marshal(p.Engagement)
	baseline, _ := json.Marshal(p.Baseline)
	consent, _ := json.Marshal(p.Consent)

	query := `
		INSERT INTO recovery.patients (
			id, name, age, gender, phone, surgery_type, discharge_date,
			risk_tier, comorbidities, caregiver, sdoh, medications, engagement,
			baseline, consent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			phone = EXCLUDED.phone,
			surgery_type = EXCLUDED.surgery_type,
			discharge_date = EXCLUDED.discharge_date,
			risk_tier = EXCLUDED.risk_tier,
			comorbidities = EXCLUDED.comorbidities,
			caregiver = EXCLUDED.caregiver,
			sdoh = EXCLUDED.sdoh,
			medications = EXCLUDED.medications,
			engagement = EXCLUDED.engagement,
			baseline = EXCLUDED.baseline,
			consent = EXCLUDED.consent,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.SurgeryType, p.DischargeDate,
		int(p.RiskTier), comorbidities, caregiver, sdoh, medications, engagement,
		baseline, consent, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save patient")
	}
	return nil
}

// Count returns the number of patients
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recovery.patients`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count patients")
	}
	return count, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanning
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	var riskTier int
	var comorbidities, caregiver, sdoh, medications, engagement, baseline, consent []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.SurgeryType, &p.DischargeDate,
		&riskTier, &comorbidities, &caregiver, &sdoh, &medications, &engagement,
		&baseline, &consent, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RiskTier = RiskTier(riskTier)
	json.Unmarshal(comorbidities, &p.Comorbidities)
	if len(caregiver) > 0 && string(caregiver) != "null" {
		json.Unmarshal(caregiver, &p.Caregiver)
	}
	json.Unmarshal(sdoh, &p.SDoH)
	json.Unmarshal(medications, &p.Medications)
	json.Unmarshal(engagement, &p.Engagement)
	json.Unmarshal(baseline, &p.Baseline)
	json.Unmarshal(consent, &p.Consent)

	return &p, nil
}
