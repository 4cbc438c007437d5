package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/cuemby/bastion/internal/apperr"
)

// keypack is the portable, password-protected export of the full keyring:
// an operator backs this up offline so losing the Hub's disk does not mean
// losing the ability to decrypt existing secrets.
type keypack struct {
	SaltB64       string `json:"salt_b64"`
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Export encrypts the current keyring state under a password-derived key
// (Argon2id) and writes it to path.
func (k *Keyring) Export(path, password string) error {
	kf := keyFile{ActiveVer: k.active}
	for v, key := range k.keys {
		kf.Keys = append(kf.Keys, keyEntry{Version: v, KeyB64: base64.StdEncoding.EncodeToString(key)})
	}
	plaintext, err := json.Marshal(kf)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal keypack payload", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return apperr.Wrap(apperr.KindInternal, "generate keypack salt", err)
	}
	derived := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	gcm, err := newGCM(derived)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return apperr.Wrap(apperr.KindInternal, "generate keypack nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	kp := keypack{
		SaltB64:       base64.StdEncoding.EncodeToString(salt),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(sealed),
	}
	data, err := json.MarshalIndent(kp, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal keypack", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write keypack", err)
	}
	return nil
}

// Import decrypts a keypack file and replaces the in-memory keyring with
// its contents, persisting to disk. Import refuses to overwrite an
// existing keyring unless force is true, since importing the wrong keypack
// would strand secrets encrypted under the current key.
func Import(dataDir, path, password string, force bool) (*Keyring, error) {
	keyPath := dataDir + "/" + keyFileName
	if _, err := os.Stat(keyPath); err == nil && !force {
		return nil, apperr.New(apperr.KindValidation, "a master keyring already exists; pass force to overwrite")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIONotFound, "read keypack file", err)
	}
	var kp keypack
	if err := json.Unmarshal(data, &kp); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse keypack file", err)
	}
	salt, err := base64.StdEncoding.DecodeString(kp.SaltB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode keypack salt", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kp.NonceB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode keypack nonce", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(kp.CiphertextB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode keypack ciphertext", err)
	}

	derived := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	gcm, err := newGCM(derived)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindAuth, "wrong password or corrupt keypack")
	}

	var kf keyFile
	if err := json.Unmarshal(plaintext, &kf); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parse decrypted keypack payload", err)
	}
	kr := &Keyring{path: keyPath, keys: map[int][]byte{}, active: kf.ActiveVer}
	for _, e := range kf.Keys {
		raw, err := base64.StdEncoding.DecodeString(e.KeyB64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode imported key entry", err)
		}
		kr.keys[e.Version] = raw
	}
	if err := kr.persist(); err != nil {
		return nil, err
	}
	return kr, nil
}
