package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/apperr"
)

func TestLoadBootstrapsAndPersists(t *testing.T) {
	dir := t.TempDir()
	k1, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, k1.ActiveVersion())

	k2, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, k1.ActiveVersion(), k2.ActiveVersion())

	ct, ver, err := k1.Encrypt([]byte("secret"))
	require.NoError(t, err)
	pt, err := k2.Decrypt(ct, ver)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(pt))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := Load(t.TempDir())
	require.NoError(t, err)

	ct, ver, err := k.Encrypt([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, k.ActiveVersion(), ver)

	pt, err := k.Decrypt(ct, ver)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(pt))
}

func TestDecryptUnknownVersionErrors(t *testing.T) {
	k, err := Load(t.TempDir())
	require.NoError(t, err)
	_, err = k.Decrypt("irrelevant", 99)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestRotateKeepsOldVersionsDecryptable(t *testing.T) {
	k, err := Load(t.TempDir())
	require.NoError(t, err)

	ctOld, verOld, err := k.Encrypt([]byte("old secret"))
	require.NoError(t, err)

	newVer, err := k.Rotate()
	require.NoError(t, err)
	assert.Equal(t, verOld+1, newVer)
	assert.Equal(t, newVer, k.ActiveVersion())

	ptOld, err := k.Decrypt(ctOld, verOld)
	require.NoError(t, err)
	assert.Equal(t, "old secret", string(ptOld))

	ctNew, verNew, err := k.Encrypt([]byte("new secret"))
	require.NoError(t, err)
	assert.Equal(t, newVer, verNew)
	ptNew, err := k.Decrypt(ctNew, verNew)
	require.NoError(t, err)
	assert.Equal(t, "new secret", string(ptNew))
}

func TestDeriveNodeKeyIsStablePerAgent(t *testing.T) {
	k, err := Load(t.TempDir())
	require.NoError(t, err)

	a1, err := k.DeriveNodeKey("agent-1")
	require.NoError(t, err)
	a1again, err := k.DeriveNodeKey("agent-1")
	require.NoError(t, err)
	a2, err := k.DeriveNodeKey("agent-2")
	require.NoError(t, err)

	assert.Equal(t, a1, a1again)
	assert.NotEqual(t, a1, a2)
	assert.Len(t, a1, 32)
}

func TestExportImportRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	k, err := Load(dataDir)
	require.NoError(t, err)
	_, _, err = k.Encrypt([]byte("noop")) // ensure active key is exercised
	require.NoError(t, err)

	exportPath := dataDir + "/export.keypack"
	require.NoError(t, k.Export(exportPath, "correct horse battery staple"))

	otherDir := t.TempDir()
	imported, err := Import(otherDir, exportPath, "correct horse battery staple", false)
	require.NoError(t, err)
	assert.Equal(t, k.ActiveVersion(), imported.ActiveVersion())

	ct, ver, err := k.Encrypt([]byte("payload"))
	require.NoError(t, err)
	pt, err := imported.Decrypt(ct, ver)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))
}

func TestImportWrongPasswordFails(t *testing.T) {
	dataDir := t.TempDir()
	k, err := Load(dataDir)
	require.NoError(t, err)
	exportPath := dataDir + "/export.keypack"
	require.NoError(t, k.Export(exportPath, "right-password"))

	_, err = Import(t.TempDir(), exportPath, "wrong-password", false)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
}

func TestImportRefusesToOverwriteWithoutForce(t *testing.T) {
	dataDir := t.TempDir()
	k, err := Load(dataDir)
	require.NoError(t, err)
	exportPath := dataDir + "/export.keypack"
	require.NoError(t, k.Export(exportPath, "pw"))

	// Importing into the same dataDir where a keyring already exists.
	_, err = Import(dataDir, exportPath, "pw", false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = Import(dataDir, exportPath, "pw", true)
	assert.NoError(t, err)
}
