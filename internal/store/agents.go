package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// UpsertAgent registers an agent or updates its metadata on reconnect,
// matched by hostname the way arkeep's grpc Register handler does.
func (s *Store) UpsertAgent(ctx context.Context, a *model.Agent) error {
	var existing model.Agent
	err := s.db.WithContext(ctx).Where("hostname = ?", a.Hostname).First(&existing).Error
	if err == nil {
		a.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "update agent", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing agent", err)
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create agent", err)
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var a model.Agent
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "agent not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get agent", err)
	}
	return &a, nil
}

// ListAgents returns every registered agent.
func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	if err := s.db.WithContext(ctx).Order("name asc").Find(&agents).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list agents", err)
	}
	return agents, nil
}

// SetAgentStatus updates connection status and last-seen timestamp.
func (s *Store) SetAgentStatus(ctx context.Context, id, status string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.Agent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen_at": now}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set agent status", err)
	}
	return nil
}

// UpsertConfigSnapshot stores the latest materialized config view computed
// for an agent, replacing any prior unsent snapshot.
func (s *Store) UpsertConfigSnapshot(ctx context.Context, snap *model.ConfigSnapshot) error {
	var existing model.ConfigSnapshot
	err := s.db.WithContext(ctx).Where("agent_id = ?", snap.AgentID).First(&existing).Error
	if err == nil {
		snap.ID = existing.ID
		snap.LastAppliedSnapshotID = existing.LastAppliedSnapshotID
		snap.LastAppliedAt = existing.LastAppliedAt
		if err := s.db.WithContext(ctx).Save(snap).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "update config snapshot", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing config snapshot", err)
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create config snapshot", err)
	}
	return nil
}

// GetConfigSnapshot fetches an agent's current config snapshot.
func (s *Store) GetConfigSnapshot(ctx context.Context, agentID string) (*model.ConfigSnapshot, error) {
	var snap model.ConfigSnapshot
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "config snapshot not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get config snapshot", err)
	}
	return &snap, nil
}

// MarkConfigSnapshotApplied records that the agent confirmed applying a
// given snapshot id. PushConfigSnapshot does not read it and sends the
// snapshot again on every push.
func (s *Store) MarkConfigSnapshotApplied(ctx context.Context, agentID, snapshotID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.ConfigSnapshot{}).Where("agent_id = ?", agentID).
		Updates(map[string]interface{}{"last_applied_snapshot_id": snapshotID, "last_applied_at": now}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark config snapshot applied", err)
	}
	return nil
}

// UpsertSecretsSnapshot mirrors UpsertConfigSnapshot for the secrets view.
func (s *Store) UpsertSecretsSnapshot(ctx context.Context, snap *model.SecretsSnapshot) error {
	var existing model.SecretsSnapshot
	err := s.db.WithContext(ctx).Where("agent_id = ?", snap.AgentID).First(&existing).Error
	if err == nil {
		snap.ID = existing.ID
		snap.LastAppliedSnapshotID = existing.LastAppliedSnapshotID
		snap.LastAppliedAt = existing.LastAppliedAt
		if err := s.db.WithContext(ctx).Save(snap).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "update secrets snapshot", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing secrets snapshot", err)
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create secrets snapshot", err)
	}
	return nil
}

// GetSecretsSnapshot fetches an agent's current secrets snapshot.
func (s *Store) GetSecretsSnapshot(ctx context.Context, agentID string) (*model.SecretsSnapshot, error) {
	var snap model.SecretsSnapshot
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "secrets snapshot not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get secrets snapshot", err)
	}
	return &snap, nil
}

// MarkSecretsSnapshotApplied records the agent's ack of a secrets push.
func (s *Store) MarkSecretsSnapshotApplied(ctx context.Context, agentID, snapshotID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.SecretsSnapshot{}).Where("agent_id = ?", agentID).
		Updates(map[string]interface{}{"last_applied_snapshot_id": snapshotID, "last_applied_at": now}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "mark secrets snapshot applied", err)
	}
	return nil
}
