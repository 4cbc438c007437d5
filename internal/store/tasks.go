package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// EnqueueAgentTask inserts a new pending task for delivery to an agent.
func (s *Store) EnqueueAgentTask(ctx context.Context, t *model.AgentTask) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "enqueue agent task", err)
	}
	return nil
}

// ListPendingAgentTasks returns tasks not yet acked for an agent, ascending
// by creation so redelivery on reconnect preserves dispatch order.
func (s *Store) ListPendingAgentTasks(ctx context.Context, agentID string) ([]model.AgentTask, error) {
	var tasks []model.AgentTask
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND status IN ?", agentID, []model.AgentTaskStatus{model.TaskPending, model.TaskDelivered}).
		Order("created_at asc").
		Find(&tasks).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list pending agent tasks", err)
	}
	return tasks, nil
}

// MarkTaskDelivered records that a task was sent over the current
// connection; it is only acked once the agent confirms receipt.
func (s *Store) MarkTaskDelivered(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.AgentTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.TaskDelivered, "delivered_at": now}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark task delivered", err)
	}
	return nil
}

// MarkTaskAcked records the agent's ack of a delivered task.
func (s *Store) MarkTaskAcked(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.AgentTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.TaskAcked, "acked_at": now}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark task acked", err)
	}
	return nil
}

// CompleteAgentTask records the final result of a task.
func (s *Store) CompleteAgentTask(ctx context.Context, id uuid.UUID, status model.AgentTaskStatus, resultJSON, errMsg string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.AgentTask{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": now,
			"result_json":  resultJSON,
			"error":        errMsg,
		}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "complete agent task", err)
	}
	return nil
}

// GetAgentTask fetches a task by id.
func (s *Store) GetAgentTask(ctx context.Context, id uuid.UUID) (*model.AgentTask, error) {
	var t model.AgentTask
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "agent task not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get agent task", err)
	}
	return &t, nil
}

// EnqueueArtifactDelete inserts a delete task, idempotent on run id: a
// second enqueue for the same run is a no-op rather than a duplicate row.
func (s *Store) EnqueueArtifactDelete(ctx context.Context, t *model.ArtifactDeleteTask) error {
	var existing model.ArtifactDeleteTask
	err := s.db.WithContext(ctx).Where("run_id = ?", t.RunID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing delete task", err)
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "enqueue artifact delete", err)
	}
	return nil
}

// CountRecentDeleteTasksForJob counts artifact-delete tasks enqueued for a
// job's runs since the given time, enforcing the per-job daily safety cap
// on retention-driven deletes.
func (s *Store) CountRecentDeleteTasksForJob(ctx context.Context, jobID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ArtifactDeleteTask{}).
		Joins("JOIN snapshots ON snapshots.run_id = artifact_delete_tasks.run_id").
		Where("snapshots.job_id = ? AND artifact_delete_tasks.created_at >= ?", jobID, since).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count recent delete tasks", err)
	}
	return count, nil
}

// ListDueDeleteTasks returns delete tasks ready for another attempt.
func (s *Store) ListDueDeleteTasks(ctx context.Context, limit int) ([]model.ArtifactDeleteTask, error) {
	var tasks []model.ArtifactDeleteTask
	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?",
			[]model.QueueStatus{model.QueueQueued, model.QueueRetrying}, time.Now()).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due delete tasks", err)
	}
	return tasks, nil
}

// SaveDeleteTask persists the full mutable state of a delete task (status,
// attempts, backoff, last error) after one worker iteration.
func (s *Store) SaveDeleteTask(ctx context.Context, t *model.ArtifactDeleteTask) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "save delete task", err)
	}
	return nil
}

// AppendDeleteEvent records one step of a delete task's history.
func (s *Store) AppendDeleteEvent(ctx context.Context, e *model.ArtifactDeleteEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "append delete event", err)
	}
	return nil
}

// EnqueueIncompleteCleanup inserts a cleanup task, idempotent on run id.
func (s *Store) EnqueueIncompleteCleanup(ctx context.Context, t *model.IncompleteCleanupTask) error {
	var existing model.IncompleteCleanupTask
	err := s.db.WithContext(ctx).Where("run_id = ?", t.RunID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing cleanup task", err)
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "enqueue incomplete cleanup", err)
	}
	return nil
}

// ListDueCleanupTasks returns incomplete-cleanup tasks ready for another
// attempt.
func (s *Store) ListDueCleanupTasks(ctx context.Context, limit int) ([]model.IncompleteCleanupTask, error) {
	var tasks []model.IncompleteCleanupTask
	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?",
			[]model.QueueStatus{model.QueueQueued, model.QueueRetrying}, time.Now()).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due cleanup tasks", err)
	}
	return tasks, nil
}

// SaveCleanupTask persists a cleanup task's mutable state.
func (s *Store) SaveCleanupTask(ctx context.Context, t *model.IncompleteCleanupTask) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "save cleanup task", err)
	}
	return nil
}

// CountQueuedDeleteTasks returns the artifact delete-queue depth (queued or
// retrying), for the metrics collector.
func (s *Store) CountQueuedDeleteTasks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.ArtifactDeleteTask{}).
		Where("status IN ?", []model.QueueStatus{model.QueueQueued, model.QueueRetrying}).Count(&n).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count queued delete tasks", err)
	}
	return n, nil
}
