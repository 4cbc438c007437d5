// Package keyring manages the master symmetric keys Bastion uses to encrypt
// secrets at rest, following the same AES-256-GCM construction the teacher
// uses for its cluster encryption key, extended with versioning so a key
// can be rotated without losing the ability to decrypt older rows.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/bastion/internal/apperr"
)

const keyFileName = "master.key"

// keyEntry is one versioned symmetric key.
type keyEntry struct {
	Version int    `json:"version"`
	KeyB64  string `json:"key_b64"`
}

type keyFile struct {
	Keys       []keyEntry `json:"keys"`
	ActiveVer  int        `json:"active_version"`
}

// Keyring holds every key version ever generated, newest active for
// encryption, all retained for decryption of rows encrypted under an older
// version.
type Keyring struct {
	path   string
	keys   map[int][]byte
	active int
}

// Load opens (creating if absent) the master keyring under dataDir.
func Load(dataDir string) (*Keyring, error) {
	path := filepath.Join(dataDir, keyFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return bootstrap(path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "read master keyring", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse master keyring", err)
	}
	kr := &Keyring{path: path, keys: map[int][]byte{}, active: kf.ActiveVer}
	for _, e := range kf.Keys {
		raw, err := base64.StdEncoding.DecodeString(e.KeyB64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "decode keyring entry", err)
		}
		kr.keys[e.Version] = raw
	}
	if _, ok := kr.keys[kr.active]; !ok {
		return nil, apperr.New(apperr.KindConfig, "master keyring missing active key version")
	}
	return kr, nil
}

func bootstrap(path string) (*Keyring, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "generate master key", err)
	}
	kr := &Keyring{path: path, keys: map[int][]byte{1: key}, active: 1}
	if err := kr.persist(); err != nil {
		return nil, err
	}
	return kr, nil
}

func (k *Keyring) persist() error {
	kf := keyFile{ActiveVer: k.active}
	for v, key := range k.keys {
		kf.Keys = append(kf.Keys, keyEntry{Version: v, KeyB64: base64.StdEncoding.EncodeToString(key)})
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal keyring", err)
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write keyring", err)
	}
	return nil
}

// ActiveVersion returns the key version new encryptions should use.
func (k *Keyring) ActiveVersion() int { return k.active }

// Encrypt seals plaintext under the active key, returning a base64
// ciphertext with the nonce prepended, matching the teacher's
// EncryptSecret layout.
func (k *Keyring) Encrypt(plaintext []byte) (ciphertextB64 string, version int, err error) {
	key := k.keys[k.active]
	gcm, err := newGCM(key)
	if err != nil {
		return "", 0, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", 0, apperr.Wrap(apperr.KindInternal, "generate nonce", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), k.active, nil
}

// Decrypt opens ciphertext that was sealed under the given key version.
func (k *Keyring) Decrypt(ciphertextB64 string, version int) ([]byte, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, apperr.New(apperr.KindConfig, fmt.Sprintf("no keyring key for version %d", version))
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode ciphertext", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, apperr.New(apperr.KindValidation, "ciphertext too short")
	}
	nonce, ct := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "decrypt secret", err)
	}
	return plaintext, nil
}

// Rotate generates a new active key version, retaining all prior versions
// so existing ciphertext stays decryptable until re-encrypted.
func (k *Keyring) Rotate() (newVersion int, err error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "generate rotated key", err)
	}
	next := k.active + 1
	k.keys[next] = key
	k.active = next
	if err := k.persist(); err != nil {
		return 0, err
	}
	return next, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, apperr.New(apperr.KindInternal, "keyring key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create gcm", err)
	}
	return gcm, nil
}
