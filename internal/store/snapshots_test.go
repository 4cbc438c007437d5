package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

func newTestSnapshot(jobID uuid.UUID) *model.Snapshot {
	return &model.Snapshot{
		RunID:              model.NewID(),
		JobID:              jobID,
		NodeID:             "hub",
		TargetType:         model.TargetLocalDir,
		TargetSnapshotJSON: "{}",
		ArtifactFormat:     model.FormatArchiveV1,
		Status:             model.SnapshotPresent,
	}
}

func TestUpsertAndGetSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := model.NewID()
	snap := newTestSnapshot(jobID)

	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	got, err := s.GetSnapshot(ctx, snap.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotPresent, got.Status)
}

func TestGetSnapshotMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSnapshot(context.Background(), model.NewID())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListSnapshotsForJobExcludesFullyDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := model.NewID()

	present := newTestSnapshot(jobID)
	present.JobID = jobID
	require.NoError(t, s.UpsertSnapshot(ctx, present))

	deleted := newTestSnapshot(jobID)
	deleted.JobID = jobID
	deleted.Status = model.SnapshotDeleted
	require.NoError(t, s.UpsertSnapshot(ctx, deleted))

	snaps, err := s.ListSnapshotsForJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, present.RunID, snaps[0].RunID)
}

func TestPinAndUnpinSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := model.NewID()
	snap := newTestSnapshot(jobID)
	snap.JobID = jobID
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	require.NoError(t, s.PinSnapshot(ctx, snap.RunID, "user-1"))
	got, err := s.GetSnapshot(ctx, snap.RunID)
	require.NoError(t, err)
	require.NotNil(t, got.PinnedAt)
	assert.Equal(t, "user-1", got.PinnedByUserID)

	require.NoError(t, s.UnpinSnapshot(ctx, snap.RunID))
	got, err = s.GetSnapshot(ctx, snap.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.PinnedAt)
	assert.Equal(t, "", got.PinnedByUserID)
}

func TestSetSnapshotStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := model.NewID()
	snap := newTestSnapshot(jobID)
	snap.JobID = jobID
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	require.NoError(t, s.SetSnapshotStatus(ctx, snap.RunID, model.SnapshotDeleting))

	got, err := s.GetSnapshot(ctx, snap.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotDeleting, got.Status)
}
