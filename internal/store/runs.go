package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// CreateRun inserts a queued run.
func (s *Store) CreateRun(ctx context.Context, r *model.Run) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create run", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	var r model.Run
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "run not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get run", err)
	}
	return &r, nil
}

// ActiveRunForJob returns the job's current queued-or-running run, if any.
// Used by the overlap-policy check: the hot-path index on
// (status, started_at) keeps this a single indexed lookup.
func (s *Store) ActiveRunForJob(ctx context.Context, jobID uuid.UUID) (*model.Run, error) {
	var r model.Run
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID, []model.RunStatus{model.RunQueued, model.RunRunning}).
		Order("created_at asc").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "active run lookup", err)
	}
	return &r, nil
}

// TransitionRun moves a run to a new status transactionally, refusing the
// update if the run is not currently in fromStatus (optimistic guard
// against double-transition races between the claim loop and a cancel
// request).
func (s *Store) TransitionRun(ctx context.Context, id uuid.UUID, fromStatus, toStatus model.RunStatus, touch func(*model.Run)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "run not found")
			}
			return apperr.Wrap(apperr.KindInternal, "lock run", err)
		}
		if r.Status != fromStatus {
			return apperr.New(apperr.KindValidation, "run is not in expected state")
		}
		r.Status = toStatus
		if touch != nil {
			touch(&r)
		}
		if err := tx.Save(&r).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "save run transition", err)
		}
		return nil
	})
}

// ListRunsForJob returns a job's runs newest-first, bounded by limit.
func (s *Store) ListRunsForJob(ctx context.Context, jobID uuid.UUID, limit int) ([]model.Run, error) {
	var runs []model.Run
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list runs", err)
	}
	return runs, nil
}

// ListQueuedRunsDue returns up to limit queued runs bound to nodeID, oldest
// first. It does not check whether that node is connected or able to take
// work.
func (s *Store) ListQueuedRunsDue(ctx context.Context, nodeID string, limit int) ([]model.Run, error) {
	var runs []model.Run
	err := s.db.WithContext(ctx).
		Where("status = ? AND node_id = ?", model.RunQueued, nodeID).
		Order("created_at asc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list queued runs", err)
	}
	return runs, nil
}

// PruneOldRuns deletes runs older than cutoff that are in a terminal
// status and whose snapshot (if any) is fully deleted or never existed,
// called from the retention loop's run-history sweep.
func (s *Store) PruneOldRuns(ctx context.Context, jobID uuid.UUID, cutoff time.Time, keep []uuid.UUID) error {
	q := s.db.WithContext(ctx).
		Where("job_id = ? AND created_at < ? AND status IN ?", jobID, cutoff,
			[]model.RunStatus{model.RunSuccess, model.RunFailed, model.RunRejected, model.RunCanceled}).
		Where("id NOT IN (?)", s.db.Model(&model.Snapshot{}).Select("run_id").
			Where("status IN ?", []model.SnapshotStatus{model.SnapshotPresent, model.SnapshotDeleting, model.SnapshotError}))
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	if err := q.Delete(&model.Run{}).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "prune old runs", err)
	}
	return nil
}

// CountRunsByStatus returns the number of runs in each status, for the
// metrics collector and dashboard overview.
func (s *Store) CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int64, error) {
	var rows []struct {
		Status model.RunStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Run{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "count runs by status", err)
	}
	counts := make(map[model.RunStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
