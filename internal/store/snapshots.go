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

// UpsertSnapshot inserts or updates the run_artifact row for a run. Indexing
// is best-effort per spec §4.8: a failure here must never fail the run, so
// callers log and continue rather than propagate.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	err := s.db.WithContext(ctx).Save(snap).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert snapshot", err)
	}
	return nil
}

// GetSnapshot fetches a snapshot by its run id.
func (s *Store) GetSnapshot(ctx context.Context, runID uuid.UUID) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := s.db.WithContext(ctx).First(&snap, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "snapshot not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get snapshot", err)
	}
	return &snap, nil
}

// ListSnapshotsForJob returns a job's present (non-deleted) snapshots,
// newest first, for retention evaluation.
func (s *Store) ListSnapshotsForJob(ctx context.Context, jobID uuid.UUID) ([]model.Snapshot, error) {
	var snaps []model.Snapshot
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID, []model.SnapshotStatus{model.SnapshotPresent, model.SnapshotDeleting, model.SnapshotError}).
		Order("created_at desc").
		Find(&snaps).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list snapshots", err)
	}
	return snaps, nil
}

// PinSnapshot marks a snapshot as pinned, excluding it from retention.
func (s *Store) PinSnapshot(ctx context.Context, runID uuid.UUID, userID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.Snapshot{}).Where("run_id = ?", runID).
		Updates(map[string]interface{}{"pinned_at": now, "pinned_by_user_id": userID}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "pin snapshot", err)
	}
	return nil
}

// UnpinSnapshot clears a snapshot's pin.
func (s *Store) UnpinSnapshot(ctx context.Context, runID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&model.Snapshot{}).Where("run_id = ?", runID).
		Updates(map[string]interface{}{"pinned_at": nil, "pinned_by_user_id": ""}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "unpin snapshot", err)
	}
	return nil
}

// SetSnapshotStatus transitions a snapshot's status, used by the delete
// queue worker as it moves present -> deleting -> deleted/error.
func (s *Store) SetSnapshotStatus(ctx context.Context, runID uuid.UUID, status model.SnapshotStatus) error {
	err := s.db.WithContext(ctx).Model(&model.Snapshot{}).Where("run_id = ?", runID).
		Update("status", status).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set snapshot status", err)
	}
	return nil
}
