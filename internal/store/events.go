package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// NextRunEventSeq returns the next sequence number to use for a run's event
// log, computed inside the caller's transaction so append+seq-assignment is
// atomic (see internal/events for the public append API).
func NextRunEventSeq(tx *gorm.DB, runID uuid.UUID) (int64, error) {
	var maxSeq int64
	err := tx.Model(&model.RunEvent{}).Where("run_id = ?", runID).
		Select("COALESCE(MAX(seq), 0)").Row().Scan(&maxSeq)
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// AppendRunEvent inserts one event row with an already-assigned seq.
func (s *Store) AppendRunEvent(ctx context.Context, e *model.RunEvent) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "append run event", err)
	}
	return nil
}

// ListRunEventsAfter returns events with seq > afterSeq, ascending, used for
// both the initial backlog send and reconnect catch-up.
func (s *Store) ListRunEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]model.RunEvent, error) {
	var events []model.RunEvent
	q := s.db.WithContext(ctx).
		Where("run_id = ? AND seq > ?", runID, afterSeq).
		Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list run events", err)
	}
	return events, nil
}

// WithTx runs fn inside a database transaction, exposed so internal/events
// can atomically assign a seq and insert in one round trip.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
