package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/target"
)

// Upload streams a staged archive_v1 build to backend under root, in the
// order spec §4.3/§4.4 require: parts (resumable by size, deleted locally
// once confirmed), then entries.jsonl.zst, then manifest.json, then
// complete.json last.
func Upload(ctx context.Context, backend target.Backend, root string, res *ArchiveResult) error {
	for _, partPath := range res.PartPaths {
		if err := uploadPartResumable(ctx, backend, root, partPath); err != nil {
			return err
		}
	}
	if err := uploadEntries(ctx, backend, root, res.Entries); err != nil {
		return err
	}
	if err := uploadManifest(ctx, backend, root, res.Manifest); err != nil {
		return err
	}
	return uploadComplete(ctx, backend, root, res.Manifest)
}

// UploadRawTree streams a staged raw_tree_v1 build. When the build used the
// direct-data-path optimization, the data/ tree is already the target's
// own run directory and is not re-uploaded.
func UploadRawTree(ctx context.Context, backend target.Backend, root string, res *RawTreeResult, skipDataUpload bool) error {
	if !skipDataUpload {
		if err := uploadTree(ctx, backend, root, res.DataDir); err != nil {
			return err
		}
	}
	if err := uploadEntries(ctx, backend, root, res.Entries); err != nil {
		return err
	}
	if err := uploadManifest(ctx, backend, root, res.Manifest); err != nil {
		return err
	}
	return uploadComplete(ctx, backend, root, res.Manifest)
}

// uploadPartResumable skips re-uploading a part whose destination already
// exists at the expected size (spec §4.3's resume-by-size), then deletes
// the local staging copy once the backend has it, bounding staging disk
// usage to roughly one part at a time.
func uploadPartResumable(ctx context.Context, backend target.Backend, root, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "stat staged part", err)
	}
	name := filepath.Base(localPath)

	if existing, listErr := backend.List(ctx, root); listErr == nil {
		for _, e := range existing {
			if e.Name == name && e.Size == info.Size() {
				os.Remove(localPath)
				return nil
			}
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return apperr.Wrap(apperr.KindIOPermission, "open staged part", err)
	}
	defer f.Close()

	if err := backend.WriteFile(ctx, root, target.WriteEntry{Path: name, Size: info.Size(), Data: f}); err != nil {
		return err
	}
	return os.Remove(localPath)
}

func uploadTree(ctx context.Context, backend target.Backend, root, dataDir string) error {
	return filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(dataDir, path)
		if relErr != nil {
			return relErr
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return apperr.Wrap(apperr.KindIOPermission, "open tree file for upload", openErr)
		}
		defer f.Close()
		return backend.WriteFile(ctx, root, target.WriteEntry{
			Path: filepath.ToSlash(filepath.Join("data", rel)), Size: info.Size(), Data: f,
		})
	})
}

func uploadEntries(ctx context.Context, backend target.Backend, root string, entries []Entry) error {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create entries index zstd writer", err)
	}
	for _, e := range entries {
		line, err := e.MarshalJSONL()
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "marshal entries index line", err)
		}
		if _, err := zw.Write(line); err != nil {
			return apperr.Wrap(apperr.KindInternal, "write entries index", err)
		}
	}
	if err := zw.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "close entries index writer", err)
	}
	return backend.WriteFile(ctx, root, target.WriteEntry{Path: "entries.jsonl.zst", Size: int64(buf.Len()), Data: bytes.NewReader(buf.Bytes())})
}

func uploadManifest(ctx context.Context, backend target.Backend, root string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal manifest", err)
	}
	return backend.WriteFile(ctx, root, target.WriteEntry{Path: "manifest.json", Size: int64(len(data)), Data: bytes.NewReader(data)})
}

func uploadComplete(ctx context.Context, backend target.Backend, root string, m Manifest) error {
	data, err := json.Marshal(map[string]any{"format": m.Format, "file_count": m.FileCount, "total_bytes": m.TotalBytes})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal completion marker", err)
	}
	return backend.WriteComplete(ctx, root, data)
}
