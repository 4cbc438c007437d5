package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewIDIsTimeOrdered(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, uuid.Nil, a)
	assert.Equal(t, uuid.Version(7), a.Version())
	// UUIDv7's first 48 bits are a millisecond timestamp, so two ids minted
	// back to back should sort non-decreasing.
	assert.True(t, a.String() <= b.String() || a == b)
}

func TestBeforeCreateAssignsIDOnlyWhenZero(t *testing.T) {
	j := &Job{}
	require := assert.New(t)
	require.Equal(uuid.Nil, j.ID)

	require.NoError(j.BeforeCreate(nil))
	require.NotEqual(uuid.Nil, j.ID)

	existing := j.ID
	require.NoError(j.BeforeCreate(nil))
	require.Equal(existing, j.ID, "BeforeCreate must not overwrite an already-assigned id")
}

func TestTableNamesArePinned(t *testing.T) {
	assert.Equal(t, "jobs", Job{}.TableName())
	assert.Equal(t, "runs", Run{}.TableName())
	assert.Equal(t, "run_events", RunEvent{}.TableName())
	assert.Equal(t, "snapshots", Snapshot{}.TableName())
	assert.Equal(t, "agent_tasks", AgentTask{}.TableName())
	assert.Equal(t, "artifact_delete_tasks", ArtifactDeleteTask{}.TableName())
	assert.Equal(t, "sessions", Session{}.TableName())
	assert.Equal(t, "agents", Agent{}.TableName())
	assert.Equal(t, "secrets", Secret{}.TableName())
	assert.Equal(t, "notifications", Notification{}.TableName())
}
