package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/model"
)

func createTestSnapshot(t *testing.T, s *Server, job *model.Job, run *model.Run) *model.Snapshot {
	t.Helper()
	snap := &model.Snapshot{
		RunID: run.ID, JobID: job.ID, NodeID: job.NodeID, TargetType: model.TargetLocalDir,
		ArtifactFormat: model.FormatArchiveV1, Status: model.SnapshotPresent,
	}
	require.NoError(t, s.Store.UpsertSnapshot(t.Context(), snap))
	return snap
}

func TestListSnapshotsReturnsSnapshotsForJob(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	job := createTestJob(t, s)
	run := createTestRun(t, s, job.ID)
	createTestSnapshot(t, s, job, run)

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []model.Snapshot
	decodeJSON(t, rec, &snaps)
	assert.Len(t, snaps, 1)
}

func TestPinAndUnpinSnapshot(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	job := createTestJob(t, s)
	run := createTestRun(t, s, job.ID)
	createTestSnapshot(t, s, job, run)

	rec := authedRequest(t, s, cookie, http.MethodPost, "/api/v1/snapshots/"+run.ID.String()+"/pin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := s.Store.GetSnapshot(t.Context(), run.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.PinnedAt)

	rec = authedRequest(t, s, cookie, http.MethodDelete, "/api/v1/snapshots/"+run.ID.String()+"/pin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = s.Store.GetSnapshot(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PinnedAt)
}
