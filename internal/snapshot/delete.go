package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/target"
)

const (
	deleteMaxAttempts  = 10
	deletePollInterval = 10 * time.Second
)

// DeleteStore is the subset of internal/store.Store the delete-queue
// worker depends on.
type DeleteStore interface {
	ListDueDeleteTasks(ctx context.Context, limit int) ([]model.ArtifactDeleteTask, error)
	SaveDeleteTask(ctx context.Context, t *model.ArtifactDeleteTask) error
	AppendDeleteEvent(ctx context.Context, e *model.ArtifactDeleteEvent) error
	GetSnapshot(ctx context.Context, runID uuid.UUID) (*model.Snapshot, error)
	SetSnapshotStatus(ctx context.Context, runID uuid.UUID, status model.SnapshotStatus) error
}

// BackendResolver returns the target.Backend a snapshot's artifact lives
// on, derived from the snapshot's captured target_snapshot_json rather
// than the job's possibly-since-changed current target.
type BackendResolver func(snap *model.Snapshot) (target.Backend, error)

// DeleteWorker drains the artifact_delete_tasks queue: for each due task it
// resolves the snapshot's target backend and deletes the artifact root,
// retrying transient failures with backoff and abandoning after
// deleteMaxAttempts (permission/auth failures are not retried, since they
// will not resolve themselves without operator intervention).
type DeleteWorker struct {
	store    DeleteStore
	resolve  BackendResolver
	logger   zerolog.Logger
}

func NewDeleteWorker(store DeleteStore, resolve BackendResolver, logger zerolog.Logger) *DeleteWorker {
	return &DeleteWorker{store: store, resolve: resolve, logger: logger}
}

// Run polls for due delete tasks until ctx is canceled. Call via
// internal/supervise.Group.Spawn.
func (w *DeleteWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(deletePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes one batch of due delete tasks; exported so the
// retention loop and tests can force a pass without waiting on the ticker.
func (w *DeleteWorker) DrainOnce(ctx context.Context) {
	due, err := w.store.ListDueDeleteTasks(ctx, 50)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to list due delete tasks")
		return
	}
	for i := range due {
		w.attempt(ctx, &due[i])
	}
}

func (w *DeleteWorker) attempt(ctx context.Context, t *model.ArtifactDeleteTask) {
	t.Status = model.QueueRunning
	t.Attempts++
	if err := w.store.SaveDeleteTask(ctx, t); err != nil {
		w.logger.Warn().Err(err).Str("task_id", t.ID.String()).Msg("failed to mark delete task running")
		return
	}

	snap, err := w.store.GetSnapshot(ctx, t.RunID)
	if err != nil {
		w.fail(ctx, t, err, false)
		return
	}
	if snap.PinnedAt != nil && !t.Force {
		t.Status = model.QueueBlocked
		t.LastErrorKind = string(apperr.KindValidation)
		t.LastErrorSummary = "snapshot is pinned"
		w.save(ctx, t, "blocked: snapshot is pinned")
		return
	}

	backend, err := w.resolve(snap)
	if err != nil {
		w.fail(ctx, t, err, false)
		return
	}

	if err := backend.Delete(ctx, backend.SnapshotRoot(t.RunID.String())); err != nil {
		w.fail(ctx, t, err, true)
		return
	}

	if err := w.store.SetSnapshotStatus(ctx, t.RunID, model.SnapshotDeleted); err != nil {
		w.logger.Warn().Err(err).Str("run_id", t.RunID.String()).Msg("failed to mark snapshot deleted after artifact removal")
	}
	t.Status = model.QueueDone
	t.LastErrorKind = ""
	t.LastErrorSummary = ""
	w.save(ctx, t, "done")
}

// fail records a failed attempt. Permission/auth errors are not worth
// retrying automatically: they abandon immediately so an operator notices
// and fixes the target credentials rather than the queue spinning for
// hours against a target it can never reach.
func (w *DeleteWorker) fail(ctx context.Context, t *model.ArtifactDeleteTask, err error, retryable bool) {
	kind := apperr.KindOf(err)
	t.LastErrorKind = string(kind)
	t.LastErrorSummary = err.Error()

	nonRetryable := kind == apperr.KindAuth || kind == apperr.KindIOPermission || kind == apperr.KindValidation
	if !retryable || nonRetryable || t.Attempts >= deleteMaxAttempts {
		t.Status = model.QueueAbandoned
		w.save(ctx, t, "abandoned: "+err.Error())
		return
	}
	t.Status = model.QueueRetrying
	t.NextAttemptAt = time.Now().Add(backoff(t.Attempts))
	w.save(ctx, t, "retrying: "+err.Error())
}

func (w *DeleteWorker) save(ctx context.Context, t *model.ArtifactDeleteTask, message string) {
	if err := w.store.SaveDeleteTask(ctx, t); err != nil {
		w.logger.Warn().Err(err).Str("task_id", t.ID.String()).Msg("failed to save delete task state")
	}
	evt := &model.ArtifactDeleteEvent{TaskID: t.ID, Type: string(t.Status), Message: message, CreatedAt: time.Now()}
	if err := w.store.AppendDeleteEvent(ctx, evt); err != nil {
		w.logger.Warn().Err(err).Str("task_id", t.ID.String()).Msg("failed to append delete event")
	}
}

func backoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt))
	const max = 30 * time.Minute
	if d > max {
		return max
	}
	return d
}
