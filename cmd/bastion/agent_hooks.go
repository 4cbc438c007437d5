package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/backup"
	"github.com/cuemby/bastion/internal/events"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/notify"
	"github.com/cuemby/bastion/internal/protocol"
	"github.com/cuemby/bastion/internal/snapshot"
	"github.com/cuemby/bastion/internal/store"
)

// handleAgentTaskResult is the agent-task mirror of internal/hub.Executor's
// runLocal completion path: an agent executes a backup entirely on its own
// disk, so the Hub only learns the outcome once, via this terminal
// task_result message, rather than by calling internal/backup directly.
func handleAgentTaskResult(ctx context.Context, db *store.Store, bus *events.Bus, notifier *notify.Queue, agentID string, msg protocol.TaskResultMsg, logger zerolog.Logger) {
	taskID, err := uuid.Parse(msg.TaskID)
	if err != nil {
		logger.Warn().Err(err).Str("agent_id", agentID).Msg("task result for invalid task id")
		return
	}
	status := model.TaskCompleted
	if !msg.Success {
		status = model.TaskFailed
	}
	if err := db.CompleteAgentTask(ctx, taskID, status, string(msg.Result), msg.Error); err != nil {
		logger.Warn().Err(err).Str("task_id", msg.TaskID).Msg("failed to record agent task completion")
	}

	task, err := db.GetAgentTask(ctx, taskID)
	if err != nil || task.RunID == nil {
		logger.Warn().Err(err).Str("task_id", msg.TaskID).Msg("could not look up run for completed task")
		return
	}
	run, err := db.GetRun(ctx, *task.RunID)
	if err != nil {
		logger.Warn().Err(err).Str("run_id", task.RunID.String()).Msg("could not look up run for completed task")
		return
	}

	if !msg.Success {
		_ = db.TransitionRun(ctx, run.ID, model.RunRunning, model.RunFailed, func(r *model.Run) {
			now := time.Now().UTC()
			r.EndedAt = &now
			r.ErrorCode = "agent_task_failed"
		})
		_ = bus.Publish(ctx, run.ID, "run_failed", map[string]string{"code": "agent_task_failed", "error": msg.Error})
		if notifier != nil {
			_ = notifier.Enqueue(ctx, run.ID, "run_failed", "run_failed", "agent task failed: "+msg.Error)
		}
		return
	}

	var manifest backup.Manifest
	if err := json.Unmarshal(msg.Result, &manifest); err != nil {
		logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to decode agent task result manifest")
	} else if job, jerr := db.GetJob(ctx, run.JobID); jerr != nil {
		logger.Warn().Err(jerr).Str("run_id", run.ID.String()).Msg("failed to load job for agent-produced snapshot")
	} else {
		snap := &model.Snapshot{
			RunID: run.ID, JobID: run.JobID, NodeID: run.NodeID,
			TargetType: job.TargetType, TargetSnapshotJSON: run.TargetSnapshotJSON,
			ArtifactFormat: model.ArtifactFormat(manifest.Format),
			FileCount:      manifest.FileCount, TotalBytes: manifest.TotalBytes,
			Status: model.SnapshotPresent, CreatedAt: time.Now().UTC(),
		}
		if err := snapshot.Index(ctx, db, snap); err != nil {
			logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to index agent-produced snapshot")
		}
	}

	_ = db.TransitionRun(ctx, run.ID, model.RunRunning, model.RunSuccess, func(r *model.Run) {
		now := time.Now().UTC()
		r.EndedAt = &now
	})
	_ = bus.Publish(ctx, run.ID, "run_success", nil)
	if notifier != nil {
		_ = notifier.Enqueue(ctx, run.ID, "run_success", "run_success", "backup succeeded")
	}
}
