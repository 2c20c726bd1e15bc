package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/storage"
)

// maxBodyBytes bounds request bodies; checkpoints carry whole run states.
const maxBodyBytes = 16 << 20

func keyFromRequest(r *http.Request) domain.CheckpointKey {
	q := r.URL.Query()
	return domain.CheckpointKey{
		RunID:        r.PathValue(paramRunID),
		Namespace:    q.Get(paramNamespace),
		CheckpointID: q.Get(paramCheckpointID),
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// getCheckpoint handles GET /v1/checkpoints/{run_id}
func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	resp, err := s.endpoints.Get(r.Context(), &endpoint.GetRequest{Key: keyFromRequest(r)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.(*domain.CheckpointRecord))
}

// putCheckpoint handles PUT /v1/checkpoints/{run_id}
func (s *Server) putCheckpoint(w http.ResponseWriter, r *http.Request) {
	var rec domain.CheckpointRecord
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	if rec.Key.RunID != r.PathValue(paramRunID) {
		writeError(w, fmt.Errorf("%w: body run_id does not match path", domain.ErrInvalidArgument))
		return
	}

	if _, err := s.endpoints.Put(r.Context(), &endpoint.PutRequest{Record: &rec}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listCheckpoints handles GET /v1/checkpoints
func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.endpoints.List(r.Context(), &endpoint.ListRequest{Options: opts})
	if err != nil {
		writeError(w, err)
		return
	}
	records := resp.([]*domain.CheckpointRecord)
	if records == nil {
		records = []*domain.CheckpointRecord{}
	}
	writeJSON(w, http.StatusOK, ListCheckpointsResponse{Records: records})
}

// appendWrites handles POST /v1/checkpoints/{run_id}/writes
func (s *Server) appendWrites(w http.ResponseWriter, r *http.Request) {
	var entry domain.WriteLogEntry
	if err := decodeBody(r, &entry); err != nil {
		writeError(w, err)
		return
	}
	if entry.Key.RunID != r.PathValue(paramRunID) {
		writeError(w, fmt.Errorf("%w: body run_id does not match path", domain.ErrInvalidArgument))
		return
	}

	if _, err := s.endpoints.AppendWrites(r.Context(), &endpoint.AppendWritesRequest{Entry: &entry}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listWrites handles GET /v1/checkpoints/{run_id}/writes
func (s *Server) listWrites(w http.ResponseWriter, r *http.Request) {
	resp, err := s.endpoints.ListWrites(r.Context(), &endpoint.ListWritesRequest{Key: keyFromRequest(r)})
	if err != nil {
		writeError(w, err)
		return
	}
	entries := resp.([]*domain.WriteLogEntry)
	if entries == nil {
		entries = []*domain.WriteLogEntry{}
	}
	writeJSON(w, http.StatusOK, ListWritesResponse{Entries: entries})
}

// listRuns handles GET /api/runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get(paramLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidArgument, v))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

// getRun handles GET /api/runs/{run_id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue(paramRunID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// listApprovals handles GET /api/approvals
func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.runs.ListPendingApprovals(r.Context(), r.URL.Query().Get(paramRole))
	if err != nil {
		writeError(w, err)
		return
	}
	if approvals == nil {
		approvals = []*domain.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, ListApprovalsResponse{Approvals: approvals})
}

func listOptionsFromQuery(q url.Values) (storage.ListOptions, error) {
	opts := storage.ListOptions{
		RunID:     q.Get(paramRunID),
		Namespace: q.Get(paramNamespace),
	}

	var err error
	if opts.Before, err = parseTimeParam(q, paramBefore); err != nil {
		return opts, err
	}
	if q.Has(paramAfterUpdatedAt) {
		at, err := parseTimeParam(q, paramAfterUpdatedAt)
		if err != nil {
			return opts, err
		}
		opts.After = &storage.Cursor{UpdatedAt: at, Key: q.Get(paramAfterKey)}
	}
	if v := q.Get(paramLimit); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("%w: bad limit %q", domain.ErrInvalidArgument, v)
		}
	}
	return opts, nil
}

func listOptionsToQuery(opts storage.ListOptions) url.Values {
	q := url.Values{}
	if opts.RunID != "" {
		q.Set(paramRunID, opts.RunID)
	}
	if opts.Namespace != "" {
		q.Set(paramNamespace, opts.Namespace)
	}
	if !opts.Before.IsZero() {
		q.Set(paramBefore, opts.Before.UTC().Format(time.RFC3339Nano))
	}
	if opts.After != nil {
		q.Set(paramAfterUpdatedAt, opts.After.UpdatedAt.UTC().Format(time.RFC3339Nano))
		q.Set(paramAfterKey, opts.After.Key)
	}
	if opts.Limit > 0 {
		q.Set(paramLimit, strconv.Itoa(opts.Limit))
	}
	return q
}

func parseTimeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad %s %q", domain.ErrInvalidArgument, name, v)
	}
	return t, nil
}
