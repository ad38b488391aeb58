package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/recoverguard/platform/internal/shared/errors"
)

// PostgresRepository stores audit entries in PostgreSQL. Sequence numbers
// come from a BIGSERIAL column, so ordering is assigned by the database and
// strictly increasing across concurrent writers.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const auditColumns = `sequence, id, ts, hash, prev_hash, actor_id, actor_role,
	action, alert_id, patient_id, note, previous_state`

func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return apperrors.Wrap(err, "failed to begin audit transaction")
	}
	defer tx.Rollback(ctx)

	// Link to the youngest entry under serializable isolation so two
	// concurrent appends cannot both claim the same predecessor.
	var prevHash string
	err = tx.QueryRow(ctx, `
		SELECT hash FROM recovery.audit_entries
		ORDER BY sequence DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && err != pgx.ErrNoRows {
		return apperrors.Wrap(err, "failed to read audit chain head")
	}

	entry.PrevHash = prevHash
	entry.Hash = entry.computeHash()

	err = tx.QueryRow(ctx, `
		INSERT INTO recovery.audit_entries
			(id, ts, hash, prev_hash, actor_id, actor_role,
			 action, alert_id, patient_id, note, previous_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorID, entry.ActorRole, entry.Action,
		entry.AlertID, entry.PatientID, entry.Note, entry.PreviousState,
	).Scan(&entry.Sequence)
	if err != nil {
		return apperrors.Wrap(err, "failed to append audit entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, "failed to commit audit entry")
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM recovery.audit_entries WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.PatientID != nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argNum)
		args = append(args, *filter.PatientID)
		argNum++
	}
	if filter.AlertID != nil {
		query += fmt.Sprintf(" AND alert_id = $%d", argNum)
		args = append(args, *filter.AlertID)
		argNum++
	}
	if filter.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", argNum)
		args = append(args, *filter.ActorID)
		argNum++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argNum)
		args = append(args, filter.Action)
		argNum++
	}

	query += " ORDER BY sequence DESC"
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
		return nil, apperrors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) VerifyChain(ctx context.Context) (*ChainReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM recovery.audit_entries
		ORDER BY sequence ASC`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read audit chain")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to read audit chain")
	}

	return verifyEntries(entries), nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recovery.audit_entries`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count audit entries")
	}
	return count, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	err := row.Scan(
		&entry.Sequence, &entry.ID, &entry.Timestamp,
		&entry.Hash, &entry.PrevHash,
		&entry.ActorID, &entry.ActorRole, &entry.Action,
		&entry.AlertID, &entry.PatientID, &entry.Note, &entry.PreviousState,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan audit entry")
	}
	return &entry, nil
}
