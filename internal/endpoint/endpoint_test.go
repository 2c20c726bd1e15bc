package endpoint

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/internal/storage/memory"
)

func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrRunNotFound, codes.NotFound},
		{domain.ErrApprovalNotPending, codes.FailedPrecondition},
		{domain.ErrNotesRequired, codes.InvalidArgument},
		{domain.ErrTransportUnavailable, codes.Unavailable},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		st, ok := status.FromError(MapErrorToStatus(tt.err))
		require.True(t, ok)
		assert.Equal(t, tt.want, st.Code(), tt.err.Error())
	}
	assert.NoError(t, MapErrorToStatus(nil))
}

func TestStatusRoundTripKeepsSentinels(t *testing.T) {
	err := FromStatus(MapErrorToStatus(domain.ErrRunNotFound))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = FromStatus(MapErrorToStatus(domain.ErrInvalidRole))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	unavailable := status.Error(codes.Unavailable, "connection refused")
	assert.Equal(t, unavailable, FromStatus(unavailable))
}

func TestHTTPRoundTripKeepsSentinels(t *testing.T) {
	code := HTTPStatus(domain.ErrApprovalNotFound)
	assert.Equal(t, http.StatusNotFound, code)
	assert.ErrorIs(t, FromHTTP(code, "missing"), domain.ErrNotFound)

	assert.Equal(t, http.StatusConflict, HTTPStatus(domain.ErrApprovalNotPending))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(status.Error(codes.ResourceExhausted, "slow down")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestEndpointsValidate(t *testing.T) {
	ctx := context.Background()
	eps := MakeEndpoints(memory.New().Checkpoints())

	_, err := eps.Get(ctx, &GetRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = eps.Put(ctx, &PutRequest{Record: &domain.CheckpointRecord{Key: domain.CheckpointKey{RunID: "r"}}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "updated_at is required")

	_, err = eps.AppendWrites(ctx, &AppendWritesRequest{Entry: &domain.WriteLogEntry{
		Key:    domain.CheckpointKey{RunID: "r"},
		TaskID: "1:brief",
		Writes: []domain.ChannelWrite{{}},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestEndpointsRoundTrip(t *testing.T) {
	ctx := context.Background()
	eps := MakeEndpoints(memory.New().Checkpoints())
	rec := &domain.CheckpointRecord{Key: domain.CheckpointKey{RunID: "r"}, State: []byte("s"), UpdatedAt: time.Now()}

	_, err := eps.Put(ctx, &PutRequest{Record: rec})
	require.NoError(t, err)

	resp, err := eps.Get(ctx, &GetRequest{Key: rec.Key})
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), resp.(*domain.CheckpointRecord).State)

	req := &ListRequest{Options: storage.ListOptions{}}
	resp, err = eps.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, resp.([]*domain.CheckpointRecord), 1)
	assert.Equal(t, MaxPageSize, req.Options.Limit)
}
