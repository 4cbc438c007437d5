package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/model"
)

func TestRetentionPreviewReportsDoomedRuns(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	job := createTestJob(t, s)
	job.RetentionKeepLast = 1
	require.NoError(t, s.Store.UpdateJob(t.Context(), job))

	older := createTestRun(t, s, job.ID)
	createTestSnapshot(t, s, job, older)
	newer := createTestRun(t, s, job.ID)
	time.Sleep(time.Millisecond)
	newerSnap := createTestSnapshot(t, s, job, newer)
	newerSnap.CreatedAt = time.Now()
	require.NoError(t, s.Store.UpsertSnapshot(t.Context(), newerSnap))

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/retention/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunIDs []string `json:"run_ids"`
	}
	decodeJSON(t, rec, &body)
	assert.Contains(t, body.RunIDs, older.ID.String())
}

func TestRetentionPreviewReturnsNotFoundForUnknownJob(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/jobs/"+model.NewID().String()+"/retention/preview", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
