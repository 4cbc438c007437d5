package restore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
)

// LocalFsSink writes restored files directly to a local directory tree.
type LocalFsSink struct {
	Root string
}

func NewLocalFsSink(root string) *LocalFsSink { return &LocalFsSink{Root: root} }

func (s *LocalFsSink) full(destPath string) string { return filepath.Join(s.Root, filepath.FromSlash(destPath)) }

func (s *LocalFsSink) Exists(ctx context.Context, destPath string) (bool, error) {
	_, err := os.Lstat(s.full(destPath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindIOPermission, "stat destination", err)
	}
	return true, nil
}

func (s *LocalFsSink) WriteDir(ctx context.Context, destPath string, entry backup.Entry) error {
	if err := os.MkdirAll(s.full(destPath), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "create restored directory", err)
	}
	return nil
}

func (s *LocalFsSink) WriteEntry(ctx context.Context, destPath string, entry backup.Entry, data io.Reader) error {
	full := s.full(destPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "create parent directory", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "open restore destination", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "write restore destination", err)
	}
	return nil
}

func (s *LocalFsSink) WriteSymlink(ctx context.Context, destPath string, entry backup.Entry) error {
	full := s.full(destPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "create parent directory", err)
	}
	os.Remove(full)
	if err := os.Symlink(entry.SymlinkTarget, full); err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "create restored symlink", err)
	}
	return nil
}

// ApplyMetadata is best-effort: failures (e.g. chown requiring root) are
// swallowed per spec §4.5, since the data itself restored successfully.
func (s *LocalFsSink) ApplyMetadata(ctx context.Context, destPath string, entry backup.Entry) error {
	full := s.full(destPath)
	if entry.Mode != 0 {
		os.Chmod(full, os.FileMode(entry.Mode))
	}
	if !entry.Mtime.IsZero() {
		os.Chtimes(full, time.Now(), entry.Mtime)
	}
	applyOwnership(full, entry)
	return nil
}
