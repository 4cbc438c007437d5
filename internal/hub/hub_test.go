package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/bastion/internal/model"
	"github.com/cuemby/bastion/internal/target"
)

func TestBackendFromTargetLocalDir(t *testing.T) {
	dir := t.TempDir()
	b, err := BackendFromTarget(model.TargetLocalDir, `{"base_dir":"`+dir+`/snaps"}`)
	require.NoError(t, err)
	assert.Equal(t, "local_dir", b.Kind())
	_, ok := b.(*target.LocalDir)
	assert.True(t, ok)
}

func TestBackendFromTargetWebDAV(t *testing.T) {
	b, err := BackendFromTarget(model.TargetWebDAV, `{"base_url":"https://example.invalid/dav","username":"u","password":"p"}`)
	require.NoError(t, err)
	assert.Equal(t, "webdav", b.Kind())
}

func TestBackendFromTargetMissingFields(t *testing.T) {
	_, err := BackendFromTarget(model.TargetLocalDir, `{}`)
	assert.Error(t, err)

	_, err = BackendFromTarget(model.TargetWebDAV, `{}`)
	assert.Error(t, err)
}

func TestBackendFromTargetUnknownType(t *testing.T) {
	_, err := BackendFromTarget(model.TargetType("ftp"), `{}`)
	assert.Error(t, err)
}
