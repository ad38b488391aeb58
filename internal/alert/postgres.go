package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recoverguard/platform/internal/detection"
	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// PostgresRepository stores alerts in PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const alertColumns = `id, seq, patient_id, created_at, updated_at, severity, status,
	combined_score, confidence, conf_interval, reason, action,
	repeat_count, dominant_signal, deviations`

// severityRank mirrors Severity.Rank for the queue ordering in SQL
const severityRankSQL = `CASE severity WHEN 'red' THEN 0 WHEN 'yellow' THEN 1 ELSE 2 END`

func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Alert, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM recovery.alerts WHERE id = $1`, id)

	a, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFound("alert", id.String())
		}
		return nil, apperrors.Wrap(err, "failed to get alert")
	}
	return a, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM recovery.alerts WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.PatientID != nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argNum)
		args = append(args, *filter.PatientID)
		argNum++
	}
	if filter.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, string(*filter.Severity))
		argNum++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*filter.Status))
		argNum++
	}

	query += ` ORDER BY ` + severityRankSQL + `, updated_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list alerts")
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan alert")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *PostgresRepository) Save(ctx context.Context, a *Alert) error {
	deviations, err := json.Marshal(a.Deviations)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal deviations")
	}

	if a.Seq == 0 {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO recovery.alerts
				(id, patient_id, created_at, updated_at, severity, status,
				 combined_score, confidence, conf_interval, reason,
				 action, repeat_count, dominant_signal, deviations)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING seq`,
			a.ID, a.PatientID, a.CreatedAt, a.UpdatedAt,
			string(a.Severity), string(a.Status),
			a.CombinedScore, a.Confidence, a.ConfInterval, a.Reason,
			string(a.RecommendedAction), a.RepeatCount, a.DominantSignal, deviations,
		).Scan(&a.Seq)
		if err != nil {
			return apperrors.Wrap(err, "failed to insert alert")
		}
		return nil
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE recovery.alerts SET
			updated_at = $2, severity = $3, status = $4,
			combined_score = $5, confidence = $6, conf_interval = $7,
			reason = $8, action = $9, repeat_count = $10,
			deviations = $11
		WHERE id = $1`,
		a.ID, a.UpdatedAt, string(a.Severity), string(a.Status),
		a.CombinedScore, a.Confidence, a.ConfInterval,
		a.Reason, string(a.RecommendedAction), a.RepeatCount, deviations,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update alert")
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recovery.alerts`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count alerts")
	}
	return count, nil
}

func (r *PostgresRepository) CountBySeverity(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*) FROM recovery.alerts GROUP BY severity`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count alerts by severity")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan severity count")
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var severity, status, action string
	var deviations []byte

	err := row.Scan(
		&a.ID, &a.Seq, &a.PatientID, &a.CreatedAt, &a.UpdatedAt,
		&severity, &status,
		&a.CombinedScore, &a.Confidence, &a.ConfInterval, &a.Reason, &action,
		&a.RepeatCount, &a.DominantSignal, &deviations,
	)
	if err != nil {
		return nil, err
	}

	a.Severity = detection.Severity(severity)
	a.Status = Status(status)
	a.RecommendedAction = detection.RecommendedAction(action)
	if len(deviations) > 0 {
		if err := json.Unmarshal(deviations, &a.Deviations); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
