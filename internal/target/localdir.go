package target

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/bastion/internal/apperr"
)

// LocalDir stores snapshots under a base directory on the node running the
// job (the Hub itself, or the filesystem the Agent has local access to).
type LocalDir struct {
	BaseDir string
}

func NewLocalDir(baseDir string) *LocalDir { return &LocalDir{BaseDir: baseDir} }

func (l *LocalDir) Kind() string { return "local_dir" }

func (l *LocalDir) SnapshotRoot(runID string) string {
	return filepath.Join(l.BaseDir, runID)
}

func (l *LocalDir) WriteFile(ctx context.Context, root string, entry WriteEntry) error {
	full := filepath.Join(root, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "create directory", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "open destination file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, entry.Data); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "write destination file", err)
	}
	return nil
}

// WriteComplete writes complete.json last, after every data file is
// already flushed, so a partial snapshot is never mistaken for a finished
// one (spec §4.4's ordering invariant).
func (l *LocalDir) WriteComplete(ctx context.Context, root string, data []byte) error {
	full := filepath.Join(root, "complete.json")
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "write completion marker", err)
	}
	return nil
}

// List and Open take a path already rooted the way SnapshotRoot/WriteFile
// return and accept it (a complete location under BaseDir), not one
// relative to BaseDir — matching WebDAV's equivalent methods, since callers
// like internal/backup's upload and internal/restore's sources pass the
// same root value to every Backend method interchangeably.
func (l *LocalDir) List(ctx context.Context, path string) ([]Entry, error) {
	full := filepath.FromSlash(path)
	entries, err := os.ReadDir(full)
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.KindIONotFound, "path not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOPermission, "list directory", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		info, err := de.Info()
		var modTime string
		var size int64
		if err == nil {
			modTime = info.ModTime().UTC().Format(time.RFC3339)
			size = info.Size()
		}
		out = append(out, Entry{Name: de.Name(), IsDir: de.IsDir(), Size: size, ModTime: modTime})
	}
	return out, nil
}

func (l *LocalDir) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full := filepath.FromSlash(path)
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.KindIONotFound, "file not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOPermission, "open file", err)
	}
	return f, nil
}

// Delete removes a snapshot root. Deleting a missing path is success,
// since RemoveAll is already idempotent over a non-existent path.
func (l *LocalDir) Delete(ctx context.Context, root string) error {
	if err := os.RemoveAll(root); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "delete snapshot directory", err)
	}
	return nil
}

func (l *LocalDir) Diagnose() string {
	return fmt.Sprintf("local_dir:%s", l.BaseDir)
}
