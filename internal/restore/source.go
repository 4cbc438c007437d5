package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
	"github.com/cuemby/bastion/internal/target"
)

// BackendSource adapts any internal/target.Backend (LocalDir or WebDAV)
// into an ArtifactSource, since both backends already expose the
// List/Open primitives a source needs.
type BackendSource struct {
	Backend target.Backend
	Root    string
}

func NewBackendSource(backend target.Backend, root string) *BackendSource {
	return &BackendSource{Backend: backend, Root: root}
}

func (s *BackendSource) ReadManifest(ctx context.Context) (*backup.Manifest, error) {
	return readManifestFrom(ctx, s.Backend, s.Root)
}

func (s *BackendSource) ReadEntries(ctx context.Context) ([]backup.Entry, error) {
	return readEntriesFrom(ctx, s.Backend, s.Root)
}

// readManifestFrom and readEntriesFrom are shared between BackendSource
// (raw_tree_v1) and ArchiveSource (archive_v1): both formats store
// manifest.json and entries.jsonl.zst the same way at the snapshot root.
func readManifestFrom(ctx context.Context, backend target.Backend, root string) (*backup.Manifest, error) {
	r, err := backend.Open(ctx, path.Join(root, "manifest.json"))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var m backup.Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "parse manifest", err)
	}
	return &m, nil
}

func readEntriesFrom(ctx context.Context, backend target.Backend, root string) ([]backup.Entry, error) {
	r, err := backend.Open(ctx, path.Join(root, "entries.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "open entries index decompressor", err)
	}
	defer zr.Close()

	var entries []backup.Entry
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e backup.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "parse entries index line", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "scan entries index", err)
	}
	return entries, nil
}

// OpenEntry resolves an entry to a readable stream under root/data/<path>,
// the raw_tree_v1 layout. It does not read archive_v1 part files;
// ArchiveSource decodes those.
func (s *BackendSource) OpenEntry(ctx context.Context, entry backup.Entry) (io.ReadCloser, error) {
	if entry.HardlinkGroup != "" && entry.HardlinkGroup != entry.Path {
		return s.openPath(ctx, entry.HardlinkGroup)
	}
	return s.openPath(ctx, entry.Path)
}

func (s *BackendSource) openPath(ctx context.Context, relPath string) (io.ReadCloser, error) {
	return s.Backend.Open(ctx, path.Join(s.Root, "data", relPath))
}
