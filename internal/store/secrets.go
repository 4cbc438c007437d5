package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// UpsertSecret inserts or updates a named secret scoped to a node.
func (s *Store) UpsertSecret(ctx context.Context, sec *model.Secret) error {
	var existing model.Secret
	err := s.db.WithContext(ctx).Where("node_id = ? AND name = ?", sec.NodeID, sec.Name).First(&existing).Error
	if err == nil {
		sec.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(sec).Error; err != nil {
			return apperr.Wrap(apperr.KindInternal, "update secret", err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindInternal, "check existing secret", err)
	}
	if err := s.db.WithContext(ctx).Create(sec).Error; err != nil {
		return apperr.Wrap(apperr.KindInternal, "create secret", err)
	}
	return nil
}

// GetSecret fetches a secret by node and name.
func (s *Store) GetSecret(ctx context.Context, nodeID, name string) (*model.Secret, error) {
	var sec model.Secret
	err := s.db.WithContext(ctx).Where("node_id = ? AND name = ?", nodeID, name).First(&sec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "secret not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get secret", err)
	}
	return &sec, nil
}

// ListSecretsForNode returns every secret of a node with CiphertextB64
// included; it redacts nothing.
func (s *Store) ListSecretsForNode(ctx context.Context, nodeID string) ([]model.Secret, error) {
	var secrets []model.Secret
	if err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Find(&secrets).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list secrets", err)
	}
	return secrets, nil
}

// DeleteSecret removes a secret by node and name.
func (s *Store) DeleteSecret(ctx context.Context, nodeID, name string) error {
	err := s.db.WithContext(ctx).Where("node_id = ? AND name = ?", nodeID, name).Delete(&model.Secret{}).Error
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete secret", err)
	}
	return nil
}

// ListSecretsByKeyVersion finds every secret encrypted under an old keyring
// key version, used during key rotation re-encryption.
func (s *Store) ListSecretsByKeyVersion(ctx context.Context, version int) ([]model.Secret, error) {
	var secrets []model.Secret
	if err := s.db.WithContext(ctx).Where("key_version = ?", version).Find(&secrets).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list secrets by key version", err)
	}
	return secrets, nil
}
