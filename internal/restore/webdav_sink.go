package restore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
	"github.com/cuemby/bastion/internal/target"
)

// WebDAVSink restores into a WebDAV collection. WebDAV has no native way
// to represent symlinks or POSIX metadata, so both are recorded as JSON
// sidecars under .bastion-meta/restore/<op_id>/ instead of being dropped
// silently (spec §4.5).
type WebDAVSink struct {
	Backend target.Backend
	Root    string
	OpID    string
}

func NewWebDAVSink(backend target.Backend, root, opID string) *WebDAVSink {
	return &WebDAVSink{Backend: backend, Root: root, OpID: opID}
}

func (s *WebDAVSink) sidecarDir() string {
	return path.Join(s.Root, ".bastion-meta", "restore", s.OpID)
}

func (s *WebDAVSink) Exists(ctx context.Context, destPath string) (bool, error) {
	entries, err := s.Backend.List(ctx, path.Join(s.Root, path.Dir(destPath)))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIONotFound {
			return false, nil
		}
		return false, err
	}
	base := path.Base(destPath)
	for _, e := range entries {
		if e.Name == base {
			return true, nil
		}
	}
	return false, nil
}

func (s *WebDAVSink) WriteDir(ctx context.Context, destPath string, entry backup.Entry) error {
	// WriteFile against a placeholder creates intermediate collections as
	// a side effect on most WebDAV servers; an explicit empty marker file
	// is avoided so directories stay indistinguishable from real ones.
	return nil
}

func (s *WebDAVSink) WriteEntry(ctx context.Context, destPath string, entry backup.Entry, data io.Reader) error {
	return s.Backend.WriteFile(ctx, s.Root, target.WriteEntry{Path: destPath, Size: entry.Size, Data: data})
}

// WriteSymlink cannot be represented on WebDAV; it is recorded in the
// sidecar instead of being silently lost.
func (s *WebDAVSink) WriteSymlink(ctx context.Context, destPath string, entry backup.Entry) error {
	return s.writeSidecar(ctx, destPath, map[string]any{"symlink_target": entry.SymlinkTarget})
}

// ApplyMetadata writes a sidecar JSON with the entry's metadata fields,
// since PUT alone cannot carry mtime/mode/uid/gid to most WebDAV servers.
func (s *WebDAVSink) ApplyMetadata(ctx context.Context, destPath string, entry backup.Entry) error {
	if entry.Mtime.IsZero() && entry.Mode == 0 && entry.UID == 0 && entry.GID == 0 {
		return nil
	}
	return s.writeSidecar(ctx, destPath, map[string]any{
		"mtime": entry.Mtime, "mode": entry.Mode, "uid": entry.UID, "gid": entry.GID,
	})
}

func (s *WebDAVSink) writeSidecar(ctx context.Context, destPath string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal restore metadata sidecar", err)
	}
	sidecarPath := path.Join(".bastion-meta", "restore", s.OpID, destPath+".json")
	return s.Backend.WriteFile(ctx, s.Root, target.WriteEntry{Path: sidecarPath, Size: int64(len(data)), Data: bytes.NewReader(data)})
}
