package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// CreateOperation inserts a new restore or verify operation.
func (s *Store) CreateOperation(ctx context.Context, op *model.Operation) error {
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create operation", err)
	}
	return nil
}

// GetOperation fetches an operation by id.
func (s *Store) GetOperation(ctx context.Context, id uuid.UUID) (*model.Operation, error) {
	var op model.Operation
	err := s.db.WithContext(ctx).First(&op, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "operation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get operation", err)
	}
	return &op, nil
}

// SaveOperation persists an operation's mutable state (status, progress).
func (s *Store) SaveOperation(ctx context.Context, op *model.Operation) error {
	if err := s.db.WithContext(ctx).Save(op).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "save operation", err)
	}
	return nil
}

// ListOperationsForSubject returns operations against a given run, newest
// first.
func (s *Store) ListOperationsForSubject(ctx context.Context, subjectID uuid.UUID) ([]model.Operation, error) {
	var ops []model.Operation
	err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("created_at desc").Find(&ops).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list operations", err)
	}
	return ops, nil
}

// AppendOperationEvent records one step of an operation's progress log.
func (s *Store) AppendOperationEvent(ctx context.Context, e *model.OperationEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "append operation event", err)
	}
	return nil
}

// ListOperationEventsAfter returns an operation's events with seq > after.
func (s *Store) ListOperationEventsAfter(ctx context.Context, opID uuid.UUID, after int64) ([]model.OperationEvent, error) {
	var events []model.OperationEvent
	err := s.db.WithContext(ctx).
		Where("operation_id = ? AND seq > ?", opID, after).
		Order("seq asc").
		Find(&events).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list operation events", err)
	}
	return events, nil
}
