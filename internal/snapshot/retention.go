package snapshot

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/model"
)

const retentionInterval = time.Hour

// RetentionStore is the subset of internal/store.Store the retention loop
// depends on.
type RetentionStore interface {
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	ListSnapshotsForJob(ctx context.Context, jobID uuid.UUID) ([]model.Snapshot, error)
	EnqueueArtifactDelete(ctx context.Context, t *model.ArtifactDeleteTask) error
	CountRecentDeleteTasksForJob(ctx context.Context, jobID uuid.UUID, since time.Time) (int64, error)
	PruneOldRuns(ctx context.Context, jobID uuid.UUID, cutoff time.Time, keep []uuid.UUID) error
}

// RetentionLoop evaluates every active job's keep-last ∪ keep-days policy
// against its present snapshots, enqueuing artifact deletes for whatever
// the policy no longer wants kept (spec §4.9). Pinned snapshots are never
// selected. Two independent safety limits bound the blast radius of a
// misconfigured policy: RetentionMaxDeletesPerTick caps one evaluation
// pass, RetentionMaxDeletesPerDay caps the job's 24h delete volume.
type RetentionLoop struct {
	store  RetentionStore
	logger zerolog.Logger
}

func NewRetentionLoop(store RetentionStore, logger zerolog.Logger) *RetentionLoop {
	return &RetentionLoop{store: store, logger: logger}
}

// Run evaluates every active job's retention policy on a fixed interval
// until ctx is canceled. Call via internal/supervise.Group.Spawn.
func (r *RetentionLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs one retention pass over every active job, enqueuing
// deletes and pruning old runs; Run calls it on every tick. The API's
// retention preview endpoint uses Preview instead, which enqueues nothing.
func (r *RetentionLoop) EvaluateOnce(ctx context.Context) {
	r.evaluate(ctx, false)
}

// Preview returns the run ids of the job's snapshots that its current
// retention policy selects for deletion, without enqueuing anything. A job
// with neither keep-last nor keep-days set selects none. The per-tick and
// per-day delete caps are not applied, so one pass may delete only part of
// the list.
func (r *RetentionLoop) Preview(ctx context.Context, jobID uuid.UUID, job model.Job) ([]uuid.UUID, error) {
	if job.RetentionKeepLast <= 0 && job.RetentionKeepDays <= 0 {
		return []uuid.UUID{}, nil
	}
	snaps, err := r.store.ListSnapshotsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	_, toDelete := SelectForRetention(snaps, job.RetentionKeepLast, job.RetentionKeepDays, time.Now())
	ids := make([]uuid.UUID, len(toDelete))
	for i, s := range toDelete {
		ids[i] = s.RunID
	}
	return ids, nil
}

func (r *RetentionLoop) evaluate(ctx context.Context, dryRun bool) {
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list active jobs for retention")
		return
	}
	for i := range jobs {
		r.evaluateJob(ctx, &jobs[i], dryRun)
	}
}

func (r *RetentionLoop) evaluateJob(ctx context.Context, job *model.Job, dryRun bool) {
	if job.RetentionKeepLast <= 0 && job.RetentionKeepDays <= 0 {
		return
	}
	snaps, err := r.store.ListSnapshotsForJob(ctx, job.ID)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to list snapshots for retention")
		return
	}
	keep, toDelete := SelectForRetention(snaps, job.RetentionKeepLast, job.RetentionKeepDays, time.Now())
	if len(toDelete) == 0 {
		return
	}

	maxPerTick := job.RetentionMaxDeletesPerTick
	if maxPerTick <= 0 {
		maxPerTick = 10
	}
	if len(toDelete) > maxPerTick {
		r.logger.Info().Str("job_id", job.ID.String()).Int("eligible", len(toDelete)).Int("applied", maxPerTick).
			Msg("retention pass capped by max_deletes_per_tick, remainder deferred to next tick")
		toDelete = toDelete[:maxPerTick]
	}

	maxPerDay := job.RetentionMaxDeletesPerDay
	if maxPerDay <= 0 {
		maxPerDay = 100
	}
	recent, err := r.store.CountRecentDeleteTasksForJob(ctx, job.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to count recent delete tasks")
		return
	}
	if remaining := int64(maxPerDay) - recent; remaining < int64(len(toDelete)) {
		if remaining < 0 {
			remaining = 0
		}
		r.logger.Info().Str("job_id", job.ID.String()).Int64("remaining_today", remaining).
			Msg("retention pass capped by max_deletes_per_day, remainder deferred")
		toDelete = toDelete[:remaining]
	}

	if dryRun {
		return
	}
	for _, s := range toDelete {
		if err := r.store.EnqueueArtifactDelete(ctx, &model.ArtifactDeleteTask{
			RunID: s.RunID, NodeID: s.NodeID, Status: model.QueueQueued, NextAttemptAt: time.Now(),
		}); err != nil {
			r.logger.Warn().Err(err).Str("run_id", s.RunID.String()).Msg("failed to enqueue retention delete")
		}
	}

	keepIDs := make([]uuid.UUID, len(keep))
	for i, s := range keep {
		keepIDs[i] = s.RunID
	}
	if job.RetentionKeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -job.RetentionKeepDays)
		if err := r.store.PruneOldRuns(ctx, job.ID, cutoff, keepIDs); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to prune old runs")
		}
	}
}

// SelectForRetention partitions snapshots into keep/delete sets per spec
// §4.9: keep-last N ∪ keep-days D, pinned snapshots always kept regardless
// of either policy. snaps may be in any order: the function sorts a copy
// newest-first and does not mutate or re-sort the input slice's backing
// array.
func SelectForRetention(snaps []model.Snapshot, keepLast, keepDays int, now time.Time) (keep, toDelete []model.Snapshot) {
	sorted := make([]model.Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	cutoff := now
	if keepDays > 0 {
		cutoff = now.AddDate(0, 0, -keepDays)
	}

	for i, s := range sorted {
		if s.PinnedAt != nil {
			keep = append(keep, s)
			continue
		}
		if s.Status != model.SnapshotPresent {
			continue
		}
		byCount := keepLast > 0 && i < keepLast
		byAge := keepDays > 0 && !s.CreatedAt.Before(cutoff)
		if byCount || byAge {
			keep = append(keep, s)
			continue
		}
		toDelete = append(toDelete, s)
	}
	return keep, toDelete
}
