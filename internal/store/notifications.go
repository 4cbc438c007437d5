package store

import (
	"context"
	"time"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// EnqueueNotification inserts a new queued notification, ready for
// immediate delivery.
func (s *Store) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "enqueue notification", err)
	}
	return nil
}

// ListDueNotifications returns queued notifications ready for another
// delivery attempt, oldest first.
func (s *Store) ListDueNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.NotificationQueued, time.Now()).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list due notifications", err)
	}
	return notifications, nil
}

// SaveNotification persists a notification's mutable delivery state.
func (s *Store) SaveNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Save(n).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "save notification", err)
	}
	return nil
}

// ListNotifications returns the most recent notifications, newest first,
// for the dashboard/notifications-queue API view.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var notifications []model.Notification
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&notifications).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list notifications", err)
	}
	return notifications, nil
}

// CountQueuedNotifications returns the notification queue depth, for the
// metrics collector.
func (s *Store) CountQueuedNotifications(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("status = ?", model.NotificationQueued).Count(&n).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "count queued notifications", err)
	}
	return n, nil
}
