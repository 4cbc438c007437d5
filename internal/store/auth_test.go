package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := &model.Session{Token: "tok-1", UserID: "admin", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", got.UserID)
}

func TestGetSessionRejectsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := &model.Session{Token: "tok-2", UserID: "admin", ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.GetSession(ctx, "tok-2")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestDeleteSessionLogsOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := &model.Session{Token: "tok-3", UserID: "admin", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.DeleteSession(ctx, "tok-3"))
	_, err := s.GetSession(ctx, "tok-3")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestPruneExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &model.Session{Token: "expired", UserID: "admin", ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSession(ctx, &model.Session{Token: "active", UserID: "admin", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}))

	n, err := s.PruneExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "active")
	assert.NoError(t, err)
}

func TestLoginThrottleForReturnsFreshRowWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t1, err := s.LoginThrottleFor(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", t1.ClientIP)
	assert.Equal(t, 0, t1.Failures)
}

func TestSaveAndClearLoginThrottle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	throttle, err := s.LoginThrottleFor(ctx, "1.2.3.4")
	require.NoError(t, err)
	throttle.Failures = 3
	throttle.LockedUntil = time.Now().Add(time.Minute)
	require.NoError(t, s.SaveLoginThrottle(ctx, throttle))

	got, err := s.LoginThrottleFor(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Failures)

	require.NoError(t, s.ClearLoginThrottle(ctx, "1.2.3.4"))
	cleared, err := s.LoginThrottleFor(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 0, cleared.Failures)
}

func TestPruneStaleThrottles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stale := &model.LoginThrottle{ClientIP: "9.9.9.9", LockedUntil: time.Now().Add(-24 * time.Hour), UpdatedAt: time.Now()}
	require.NoError(t, s.SaveLoginThrottle(ctx, stale))

	n, err := s.PruneStaleThrottles(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumeEnrollTokenMarksUsedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tok := &model.EnrollToken{Token: "enroll-1", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	require.NoError(t, s.CreateEnrollToken(ctx, tok))

	require.NoError(t, s.ConsumeEnrollToken(ctx, "enroll-1"))

	err := s.ConsumeEnrollToken(ctx, "enroll-1")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestConsumeEnrollTokenRejectsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tok := &model.EnrollToken{Token: "enroll-2", ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now()}
	require.NoError(t, s.CreateEnrollToken(ctx, tok))

	err := s.ConsumeEnrollToken(ctx, "enroll-2")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestConsumeEnrollTokenRejectsUnknownToken(t *testing.T) {
	s := newTestStore(t)
	err := s.ConsumeEnrollToken(context.Background(), "never-issued")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestPruneExpiredEnrollTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateEnrollToken(ctx, &model.EnrollToken{Token: "old", ExpiresAt: time.Now().Add(-time.Hour), CreatedAt: time.Now()}))

	n, err := s.PruneExpiredEnrollTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
