package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

type checkpointRepo struct {
	db *sql.DB
}

func (r *checkpointRepo) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, namespace, checkpoint_id, state, metadata_json, updated_at
		FROM checkpoints WHERE run_id = ? AND namespace = ? AND checkpoint_id = ?
	`, key.RunID, key.Namespace, key.CheckpointID)

	rec, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *checkpointRepo) Put(ctx context.Context, rec *domain.CheckpointRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, namespace, checkpoint_id, flat_key, state, metadata_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, namespace, checkpoint_id) DO UPDATE SET
			state = excluded.state,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`, rec.Key.RunID, rec.Key.Namespace, rec.Key.CheckpointID, rec.Key.String(),
		rec.State, string(metadataJSON), rec.UpdatedAt.UnixNano())
	return err
}

func (r *checkpointRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	query := `
		SELECT run_id, namespace, checkpoint_id, state, metadata_json, updated_at
		FROM checkpoints`
	var conds []string
	var args []any

	if opts.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.Namespace != "" {
		conds = append(conds, "namespace = ?")
		args = append(args, opts.Namespace)
	}
	if !opts.Before.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, opts.Before.UnixNano())
	}
	if opts.After != nil {
		conds = append(conds, "(updated_at < ? OR (updated_at = ? AND flat_key < ?))")
		ts := opts.After.UpdatedAt.UnixNano()
		args = append(args, ts, ts, opts.After.Key)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, flat_key DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.CheckpointRecord
	for rows.Next() {
		rec, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *checkpointRepo) AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error {
	writesJSON, err := json.Marshal(entry.Writes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkpoint_writes (run_id, namespace, checkpoint_id, task_id, writes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Key.RunID, entry.Key.Namespace, entry.Key.CheckpointID, entry.TaskID,
		string(writesJSON), entry.CreatedAt.UnixNano())
	return err
}

func (r *checkpointRepo) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, writes_json, created_at
		FROM checkpoint_writes
		WHERE run_id = ? AND namespace = ? AND checkpoint_id = ?
		ORDER BY id ASC
	`, key.RunID, key.Namespace, key.CheckpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.WriteLogEntry
	for rows.Next() {
		var (
			writesJSON string
			createdAt  int64
		)
		entry := &domain.WriteLogEntry{Key: key}
		if err := rows.Scan(&entry.TaskID, &writesJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(writesJSON), &entry.Writes); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*domain.CheckpointRecord, error) {
	rec := &domain.CheckpointRecord{}
	var (
		metadataJSON sql.NullString
		updatedAt    int64
	)
	err := row.Scan(&rec.Key.RunID, &rec.Key.Namespace, &rec.Key.CheckpointID,
		&rec.State, &metadataJSON, &updatedAt)
	if err != nil {
		return nil, err
	}

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, err
		}
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}
