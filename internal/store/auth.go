package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// CreateSession inserts a new login session.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create session", err)
	}
	return nil
}

// GetSession fetches a session by token if it has not expired.
func (s *Store) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindAuth, "session not found or expired")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get session", err)
	}
	return &sess, nil
}

// DeleteSession logs a session out.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).Delete(&model.Session{}, "token = ?", token).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete session", err)
	}
	return nil
}

// PruneExpiredSessions deletes sessions past their expiry, called from the
// maintenance loop.
func (s *Store) PruneExpiredSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&model.Session{})
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "prune sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// LoginThrottleFor fetches (or implicitly creates on first failure) a
// client IP's throttle row.
func (s *Store) LoginThrottleFor(ctx context.Context, clientIP string) (*model.LoginThrottle, error) {
	var t model.LoginThrottle
	err := s.db.WithContext(ctx).Where("client_ip = ?", clientIP).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.LoginThrottle{ClientIP: clientIP}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get login throttle", err)
	}
	return &t, nil
}

// SaveLoginThrottle upserts a client IP's throttle state.
func (s *Store) SaveLoginThrottle(ctx context.Context, t *model.LoginThrottle) error {
	t.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Save(t).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "save login throttle", err)
	}
	return nil
}

// ClearLoginThrottle resets a client IP's throttle on successful login.
func (s *Store) ClearLoginThrottle(ctx context.Context, clientIP string) error {
	err := s.db.WithContext(ctx).Delete(&model.LoginThrottle{}, "client_ip = ?", clientIP).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "clear login throttle", err)
	}
	return nil
}

// PruneStaleThrottles deletes throttle rows whose lockout has long expired,
// called from the maintenance loop to keep the table small.
func (s *Store) PruneStaleThrottles(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("locked_until <= ?", olderThan).Delete(&model.LoginThrottle{})
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "prune login throttles", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateEnrollToken inserts a one-time agent enrollment token.
func (s *Store) CreateEnrollToken(ctx context.Context, t *model.EnrollToken) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create enroll token", err)
	}
	return nil
}

// ConsumeEnrollToken atomically marks a token used, refusing expired or
// already-used tokens. Returns apperr.KindAuth on any rejection.
func (s *Store) ConsumeEnrollToken(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.EnrollToken
		err := tx.Where("token = ?", token).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindAuth, "invalid enrollment token")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "lookup enroll token", err)
		}
		if t.UsedAt != nil {
			return apperr.New(apperr.KindAuth, "enrollment token already used")
		}
		if time.Now().After(t.ExpiresAt) {
			return apperr.New(apperr.KindAuth, "enrollment token expired")
		}
		now := time.Now()
		t.UsedAt = &now
		if err := tx.Save(&t).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "consume enroll token", err)
		}
		return nil
	})
}

// PruneExpiredEnrollTokens deletes long-expired unused tokens.
func (s *Store) PruneExpiredEnrollTokens(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", olderThan).Delete(&model.EnrollToken{})
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "prune enroll tokens", res.Error)
	}
	return res.RowsAffected, nil
}
