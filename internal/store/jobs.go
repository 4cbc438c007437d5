package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j *model.Job) error {
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create job", err)
	}
	return nil
}

// UpdateJob persists all mutable fields of an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *model.Job) error {
	if err := s.db.WithContext(ctx).Save(j).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "update job", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var j model.Job
	err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get job", err)
	}
	return &j, nil
}

// ListJobs returns all jobs, including archived ones, ordered for stable
// pagination by creation time (UUIDv7 ids already sort chronologically).
func (s *Store) ListJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	if err := s.db.WithContext(ctx).Order("id asc").Find(&jobs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list jobs", err)
	}
	return jobs, nil
}

// ListActiveJobs returns jobs eligible for scheduling (not archived).
func (s *Store) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	err := s.db.WithContext(ctx).Where("archived_at IS NULL").Order("id asc").Find(&jobs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list active jobs", err)
	}
	return jobs, nil
}

// CountActiveJobs returns the number of non-archived jobs, for the metrics
// collector.
func (s *Store) CountActiveJobs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Job{}).Where("archived_at IS NULL").Count(&n).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count active jobs", err)
	}
	return n, nil
}

// ArchiveJob soft-stops scheduling for a job without deleting its history.
func (s *Store) ArchiveJob(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Update("archived_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "archive job", err)
	}
	return nil
}

// DeleteJob removes a job row. Callers must first ensure no runs reference
// it, or accept cascading orphaned history per the API layer's rules.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&model.Job{}, "id = ?", id).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, fmt.Sprintf("delete job %s", id), err)
	}
	return nil
}
