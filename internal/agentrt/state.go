package agentrt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/bastion/internal/apperr"
)

// diskSnapshotStore persists the Hub's config/secrets snapshots to the
// agent's local data directory, encrypted at rest under the node key
// shared once at enrollment (internal/keyring.DeriveNodeKey), using the
// same AES-256-GCM construction internal/keyring uses for the Hub's own
// secrets so a stolen agent disk does not leak the cluster's secrets
// without also compromising the Hub.
type diskSnapshotStore struct {
	dir     string
	nodeKey []byte

	state stateFile
}

type stateFile struct {
	ConfigSnapshotID  string `json:"config_snapshot_id"`
	SecretsSnapshotID string `json:"secrets_snapshot_id"`
}

const (
	configSnapshotFile  = "config_snapshot.enc"
	secretsSnapshotFile = "secrets_snapshot.enc"
	stateFileName       = "agent_state.json"
)

func NewDiskSnapshotStore(dataDir string, nodeKey []byte) (SnapshotStore, error) {
	s := &diskSnapshotStore{dir: dataDir, nodeKey: nodeKey}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *diskSnapshotStore) loadState() error {
	data, err := os.ReadFile(filepath.Join(s.dir, stateFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindConfig, "read agent state", err)
	}
	return json.Unmarshal(data, &s.state)
}

func (s *diskSnapshotStore) saveState() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal agent state", err)
	}
	return os.WriteFile(filepath.Join(s.dir, stateFileName), data, 0o600)
}

func (s *diskSnapshotStore) SaveConfigSnapshot(snapshotID string, content json.RawMessage) error {
	if err := s.encryptToFile(configSnapshotFile, content); err != nil {
		return err
	}
	s.state.ConfigSnapshotID = snapshotID
	return s.saveState()
}

func (s *diskSnapshotStore) SaveSecretsSnapshot(snapshotID string, content json.RawMessage) error {
	if err := s.encryptToFile(secretsSnapshotFile, content); err != nil {
		return err
	}
	s.state.SecretsSnapshotID = snapshotID
	return s.saveState()
}

func (s *diskSnapshotStore) LastAppliedConfigSnapshotID() string  { return s.state.ConfigSnapshotID }
func (s *diskSnapshotStore) LastAppliedSecretsSnapshotID() string { return s.state.SecretsSnapshotID }

// LoadConfigSnapshot and LoadSecretsSnapshot decrypt the persisted
// snapshots for the offline scheduler to read at agent startup.
func (s *diskSnapshotStore) LoadConfigSnapshot() (json.RawMessage, error) {
	return s.decryptFromFile(configSnapshotFile)
}

func (s *diskSnapshotStore) LoadSecretsSnapshot() (json.RawMessage, error) {
	return s.decryptFromFile(secretsSnapshotFile)
}

func (s *diskSnapshotStore) encryptToFile(name string, content json.RawMessage) error {
	block, err := aes.NewCipher(s.nodeKey)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "init node cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "init node gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return apperr.Wrap(apperr.KindInternal, "generate nonce", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, content, nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return os.WriteFile(filepath.Join(s.dir, name), []byte(encoded), 0o600)
}

func (s *diskSnapshotStore) decryptFromFile(name string) (json.RawMessage, error) {
	encoded, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "read encrypted snapshot", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "decode encrypted snapshot", err)
	}
	block, err := aes.NewCipher(s.nodeKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "init node cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "init node gcm", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, apperr.New(apperr.KindConfig, "encrypted snapshot truncated")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "decrypt snapshot", err)
	}
	return plain, nil
}
