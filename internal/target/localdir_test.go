package target

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDirWriteFileAndOpenRoundTrip(t *testing.T) {
	base := t.TempDir()
	l := NewLocalDir(base)
	ctx := context.Background()
	root := l.SnapshotRoot("run-1")

	err := l.WriteFile(ctx, root, WriteEntry{Path: "a/b.txt", Data: bytes.NewReader([]byte("hello"))})
	require.NoError(t, err)

	rc, err := l.Open(ctx, filepath.Join(root, "a", "b.txt"))
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 5)
	_, err = rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestLocalDirWriteCompleteIsLastFile(t *testing.T) {
	base := t.TempDir()
	l := NewLocalDir(base)
	root := l.SnapshotRoot("run-2")
	require.NoError(t, os.MkdirAll(root, 0o755))

	require.NoError(t, l.WriteComplete(context.Background(), root, []byte(`{"ok":true}`)))
	data, err := os.ReadFile(filepath.Join(root, "complete.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestLocalDirOpenMissingFileReturnsNotFound(t *testing.T) {
	base := t.TempDir()
	l := NewLocalDir(base)
	_, err := l.Open(context.Background(), filepath.Join(base, "does/not/exist"))
	assert.Equal(t, apperr.KindIONotFound, apperr.KindOf(err))
}

func TestLocalDirListMissingDirReturnsNotFound(t *testing.T) {
	base := t.TempDir()
	l := NewLocalDir(base)
	_, err := l.List(context.Background(), filepath.Join(base, "nope"))
	assert.Equal(t, apperr.KindIONotFound, apperr.KindOf(err))
}

func TestLocalDirDeleteIsIdempotent(t *testing.T) {
	base := t.TempDir()
	l := NewLocalDir(base)
	root := l.SnapshotRoot("run-3")
	require.NoError(t, os.MkdirAll(root, 0o755))

	require.NoError(t, l.Delete(context.Background(), root))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	// Deleting again must still succeed.
	require.NoError(t, l.Delete(context.Background(), root))
}

func TestLocalDirDiagnoseIncludesBaseDir(t *testing.T) {
	l := NewLocalDir("/var/lib/bastion/snaps")
	assert.Contains(t, l.Diagnose(), "/var/lib/bastion/snaps")
	assert.Equal(t, "local_dir", l.Kind())
}
