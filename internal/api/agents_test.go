package api

import (
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/agentmgr"
	"github.com/cuemby/bastion/internal/model"
)

func TestListAgentsWorksWithoutAgentManagerWired(t *testing.T) {
	s := newTestServer(t)
	cookie := adminSession(t, s)
	a := &model.Agent{Hostname: "agent-box", Status: "offline"}
	require.NoError(t, s.Store.UpsertAgent(t.Context(), a))

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []agentView
	decodeJSON(t, rec, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "agent-box", views[0].Hostname)
	assert.False(t, views[0].Connected)
}

func TestListAgentsReportsDisconnectedWithNoLiveConnection(t *testing.T) {
	s := newTestServer(t)
	s.Agents = agentmgr.New(s.Store, zerolog.Nop(), agentmgr.Hooks{})
	cookie := adminSession(t, s)
	a := &model.Agent{Hostname: "agent-box", Status: "offline"}
	require.NoError(t, s.Store.UpsertAgent(t.Context(), a))

	rec := authedRequest(t, s, cookie, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []agentView
	decodeJSON(t, rec, &views)
	require.Len(t, views, 1)
	assert.False(t, views[0].Connected)
}
