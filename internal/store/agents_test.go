package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

func TestUpsertAgentCreatesThenUpdatesByHostname(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Agent{Name: "box-1", Hostname: "box-1.local", OS: "linux", Arch: "amd64"}
	require.NoError(t, s.UpsertAgent(ctx, a))
	firstID := a.ID

	reconnect := &model.Agent{Name: "box-1", Hostname: "box-1.local", OS: "linux", Arch: "amd64", Version: "1.2.3"}
	require.NoError(t, s.UpsertAgent(ctx, reconnect))

	assert.Equal(t, firstID, reconnect.ID)

	got, err := s.GetAgent(ctx, firstID.String())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got.Version)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestGetAgentMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), model.NewID().String())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSetAgentStatusUpdatesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &model.Agent{Name: "box-1", Hostname: "box-1.local"}
	require.NoError(t, s.UpsertAgent(ctx, a))

	require.NoError(t, s.SetAgentStatus(ctx, a.ID.String(), "online"))

	got, err := s.GetAgent(ctx, a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "online", got.Status)
	assert.NotNil(t, got.LastSeenAt)
}

func TestConfigSnapshotUpsertAndApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := &model.ConfigSnapshot{AgentID: "agent-1", SnapshotID: "v1", ContentJSON: "{}"}
	require.NoError(t, s.UpsertConfigSnapshot(ctx, snap))

	got, err := s.GetConfigSnapshot(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.SnapshotID)

	require.NoError(t, s.MarkConfigSnapshotApplied(ctx, "agent-1", "v1"))
	got, err = s.GetConfigSnapshot(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.LastAppliedSnapshotID)
	assert.NotNil(t, got.LastAppliedAt)

	updated := &model.ConfigSnapshot{AgentID: "agent-1", SnapshotID: "v2", ContentJSON: "{}"}
	require.NoError(t, s.UpsertConfigSnapshot(ctx, updated))
	got, err = s.GetConfigSnapshot(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.SnapshotID)
	assert.Equal(t, "v1", got.LastAppliedSnapshotID)
}

func TestGetConfigSnapshotMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConfigSnapshot(context.Background(), "no-such-agent")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSecretsSnapshotUpsertAndApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := &model.SecretsSnapshot{AgentID: "agent-1", SnapshotID: "s1", ContentJSON: "{}"}
	require.NoError(t, s.UpsertSecretsSnapshot(ctx, snap))

	got, err := s.GetSecretsSnapshot(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SnapshotID)

	require.NoError(t, s.MarkSecretsSnapshotApplied(ctx, "agent-1", "s1"))
	got, err = s.GetSecretsSnapshot(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.LastAppliedSnapshotID)
}
