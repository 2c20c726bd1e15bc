package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/campaignflow/internal/domain"
)

type approvalRepo struct {
	db *sql.DB
}

func (r *approvalRepo) Save(ctx context.Context, req *domain.ApprovalRequest, archived bool) error {
	dataJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}

	var decidedAt sql.NullInt64
	if req.DecidedAt != nil {
		decidedAt = sql.NullInt64{Int64: req.DecidedAt.UnixNano(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approvals (id, run_id, approver_role, status, archived, requested_at, decided_at, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			archived = excluded.archived,
			decided_at = excluded.decided_at,
			data_json = excluded.data_json
	`, req.ID, req.RunID, req.ApproverRole, int(req.Status), archived,
		req.RequestedAt.UnixNano(), decidedAt, string(dataJSON))
	return err
}

func (r *approvalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var dataJSON string
	err := r.db.QueryRowContext(ctx, `SELECT data_json FROM approvals WHERE id = ?`, id).Scan(&dataJSON)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req := &domain.ApprovalRequest{}
	if err := json.Unmarshal([]byte(dataJSON), req); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *approvalRepo) ListActive(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return r.list(ctx, `
		SELECT data_json FROM approvals WHERE archived = 0 ORDER BY requested_at ASC, id ASC
	`)
}

func (r *approvalRepo) ListArchived(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return r.list(ctx, `
		SELECT data_json FROM approvals WHERE archived = 1 ORDER BY decided_at ASC, id ASC
	`)
}

func (r *approvalRepo) list(ctx context.Context, query string) ([]*domain.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		var dataJSON string
		if err := rows.Scan(&dataJSON); err != nil {
			return nil, err
		}
		req := &domain.ApprovalRequest{}
		if err := json.Unmarshal([]byte(dataJSON), req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
