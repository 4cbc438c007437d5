package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/model"
)

func createTestJob(t *testing.T, s *Server) *model.Job {
	t.Helper()
	job := &model.Job{
		Name: "nightly-db", NodeID: "hub", SourceKind: "dir", SourcePath: "/var/data",
		TargetType: model.TargetLocalDir, Format: model.FormatArchiveV1, ScheduleTimezone: "UTC",
	}
	require.NoError(t, s.Store.CreateJob(t.Context(), job))
	return job
}

func createTestRun(t *testing.T, s *Server, jobID uuid.UUID) *model.Run {
	t.Helper()
	run := &model.Run{JobID: jobID, NodeID: "hub", Status: model.RunQueued}
	require.NoError(t, s.Store.CreateRun(t.Context(), run))
	return run
}

func TestListRunsReturnsRunsForJob(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	job := createTestJob(t, s)
	createTestRun(t, s, job.ID)
	createTestRun(t, s, job.ID)

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	decodeJSON(t, rec, &runs)
	assert.Len(t, runs, 2)
}

func TestGetRunReturnsNotFoundForUnknownID(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/runs/"+model.NewID().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunReturnsRun(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	job := createTestJob(t, s)
	run := createTestRun(t, s, job.ID)

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Run
	decodeJSON(t, rec, &got)
	assert.Equal(t, run.ID, got.ID)
}
