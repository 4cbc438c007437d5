package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/config"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/scheduler"
	"github.com/cuemby/bastion/internal/snapshot"
	"github.com/cuemby/bastion/internal/store"
)

// fakeDispatcher stands in for the Hub's real job dispatcher (wired in
// cmd/bastion's serve command), the same role internal/scheduler's own tests give it.
type fakeDispatcher struct {
	localRuns []*model.Run
}

func (d *fakeDispatcher) RunLocal(job *model.Job, run *model.Run) {
	d.localRuns = append(d.localRuns, run)
}

func (d *fakeDispatcher) DispatchToAgent(ctx context.Context, agentID string, task *model.AgentTask) error {
	return nil
}

// newTestServer builds a Server backed by a real sqlite store and a real
// scheduler (wired to a fake Dispatcher), matching what internal/api's
// handlers actually depend on: Store and Scheduler are concrete struct
// fields, not interfaces, so a handler test needs the genuine article
// rather than a mock.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	bus := events.NewBus(db, store.NextRunEventSeq)
	sched, err := scheduler.New(db, &fakeDispatcher{}, bus, logger)
	require.NoError(t, err)
	retention := snapshot.NewRetentionLoop(db, logger)

	return &Server{
		Store:     db,
		Scheduler: sched,
		Bus:       bus,
		Retention: retention,
		Cfg:       config.Config{},
		Logger:    logger,
	}
}

func doRequest(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func loginAndGetCookie(t *testing.T, s *Server, password string) *http.Cookie {
	t.Helper()
	rec := doRequest(t, s, http.MethodPost, "/api/v1/auth/login", loginRequest{Password: password})
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func authedRequest(t *testing.T, s *Server, cookie *http.Cookie, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	return rec
}
