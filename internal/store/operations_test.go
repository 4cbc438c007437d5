package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

func TestCreateAndGetOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := &model.Operation{Kind: model.OperationRestore, SubjectKind: "run", SubjectID: model.NewID(), NodeID: "hub", Status: model.RunQueued}
	require.NoError(t, s.CreateOperation(ctx, op))

	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationRestore, got.Kind)
}

func TestGetOperationMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOperation(context.Background(), model.NewID())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSaveOperationPersistsProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := &model.Operation{Kind: model.OperationVerify, SubjectKind: "run", SubjectID: model.NewID(), NodeID: "hub", Status: model.RunQueued}
	require.NoError(t, s.CreateOperation(ctx, op))

	op.Status = model.RunRunning
	op.ProgressJSON = `{"files_done":3}`
	require.NoError(t, s.SaveOperation(ctx, op))

	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.Status)
	assert.Equal(t, `{"files_done":3}`, got.ProgressJSON)
}

func TestListOperationsForSubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	subjectID := model.NewID()
	require.NoError(t, s.CreateOperation(ctx, &model.Operation{Kind: model.OperationRestore, SubjectKind: "run", SubjectID: subjectID, NodeID: "hub", Status: model.RunQueued}))
	require.NoError(t, s.CreateOperation(ctx, &model.Operation{Kind: model.OperationVerify, SubjectKind: "run", SubjectID: subjectID, NodeID: "hub", Status: model.RunQueued}))
	require.NoError(t, s.CreateOperation(ctx, &model.Operation{Kind: model.OperationRestore, SubjectKind: "run", SubjectID: model.NewID(), NodeID: "hub", Status: model.RunQueued}))

	ops, err := s.ListOperationsForSubject(ctx, subjectID)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestAppendAndListOperationEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := &model.Operation{Kind: model.OperationRestore, SubjectKind: "run", SubjectID: model.NewID(), NodeID: "hub", Status: model.RunQueued}
	require.NoError(t, s.CreateOperation(ctx, op))

	require.NoError(t, s.AppendOperationEvent(ctx, &model.OperationEvent{OperationID: op.ID, Seq: 1, Type: "op_started"}))
	require.NoError(t, s.AppendOperationEvent(ctx, &model.OperationEvent{OperationID: op.ID, Seq: 2, Type: "op_progress"}))

	events, err := s.ListOperationEventsAfter(ctx, op.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "op_started", events[0].Type)

	after1, err := s.ListOperationEventsAfter(ctx, op.ID, 1)
	require.NoError(t, err)
	require.Len(t, after1, 1)
	assert.Equal(t, "op_progress", after1[0].Type)
}
