// Package notify owns the notification queue contract named in spec §4.6:
// Bastion enqueues a Notification on every run completion and retries
// delivery through a pluggable Transport until it succeeds or is
// abandoned. The actual SMTP/WeCom wire formats are explicitly out of
// scope (spec §1 "notification transports ... beyond the queue contract")
// so Transport is the full surface a real mailer/webhook client would
// implement; this package only ships a logging transport for operators
// who have not configured a real one, following the same "persist first,
// deliver best-effort" shape internal/snapshot's delete queue uses.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/bastion/internal/model"
)

// Store is the subset of internal/store.Store this package depends on.
type Store interface {
	EnqueueNotification(ctx context.Context, n *model.Notification) error
	ListDueNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	SaveNotification(ctx context.Context, n *model.Notification) error
}

// Transport delivers one notification to its destination (email, webhook,
// ...). Transports are expected to be configured with their own
// credentials out of band; Bastion's core never inspects them.
type Transport interface {
	Send(ctx context.Context, n *model.Notification) error
}

// LogTransport is the default Transport: it writes the notification to the
// operator's log instead of delivering it anywhere, so a Hub with no
// SMTP/WeCom configured still has a working (if inert) notification path.
type LogTransport struct {
	Logger zerolog.Logger
}

func (t LogTransport) Send(ctx context.Context, n *model.Notification) error {
	t.Logger.Info().Str("kind", n.Kind).Str("subject", n.Subject).Msg("notification (no transport configured)")
	return nil
}

const (
	maxAttempts  = 8
	pollInterval = 5 * time.Second
)

// Queue drains due notifications through its Transport, backing off on
// failed attempts and abandoning after maxAttempts (mirroring
// internal/snapshot's delete-task retry shape: persist first, retry with
// backoff, never block the caller that enqueued the work).
type Queue struct {
	store     Store
	transport Transport
	logger    zerolog.Logger
}

func New(store Store, transport Transport, logger zerolog.Logger) *Queue {
	if transport == nil {
		transport = LogTransport{Logger: logger}
	}
	return &Queue{store: store, transport: transport, logger: logger}
}

// Enqueue persists a notification for run outcome kind ("run_success" or
// "run_failed"), ready for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, runID uuid.UUID, kind, subject, body string) error {
	n := &model.Notification{
		RunID:         &runID,
		Kind:          kind,
		Subject:       subject,
		Body:          body,
		Status:        model.NotificationQueued,
		NextAttemptAt: time.Now(),
	}
	return q.store.EnqueueNotification(ctx, n)
}

// Run polls for due notifications until ctx is canceled. Call via
// internal/supervise.Group.Spawn.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainOnce(ctx)
		}
	}
}

func (q *Queue) drainOnce(ctx context.Context) {
	due, err := q.store.ListDueNotifications(ctx, 50)
	if err != nil {
		q.logger.Warn().Err(err).Msg("failed to list due notifications")
		return
	}
	for i := range due {
		q.attempt(ctx, &due[i])
	}
}

func (q *Queue) attempt(ctx context.Context, n *model.Notification) {
	n.Attempts++
	err := q.transport.Send(ctx, n)
	if err == nil {
		now := time.Now()
		n.Status = model.NotificationSent
		n.SentAt = &now
		n.LastErrorSummary = ""
		if saveErr := q.store.SaveNotification(ctx, n); saveErr != nil {
			q.logger.Warn().Err(saveErr).Str("notification_id", n.ID.String()).Msg("failed to save sent notification")
		}
		return
	}

	n.LastErrorSummary = err.Error()
	if n.Attempts >= maxAttempts {
		n.Status = model.NotificationFailed
		q.logger.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("notification delivery abandoned after max attempts")
	} else {
		n.NextAttemptAt = time.Now().Add(backoff(n.Attempts))
		q.logger.Info().Err(err).Str("notification_id", n.ID.String()).Int("attempt", n.Attempts).Msg("notification delivery failed, will retry")
	}
	if saveErr := q.store.SaveNotification(ctx, n); saveErr != nil {
		q.logger.Warn().Err(saveErr).Str("notification_id", n.ID.String()).Msg("failed to save notification retry state")
	}
}

// backoff grows exponentially, capped at 10 minutes, matching the delete
// queue's backoff shape in internal/snapshot.
func backoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt))
	const max = 10 * time.Minute
	if d > max {
		return max
	}
	return d
}
