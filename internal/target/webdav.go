package target

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/cuemby/bastion/internal/apperr"
)

// WebDAV stores snapshots on a remote WebDAV server. Metadata Bastion needs
// but WebDAV has no native place for (entry permissions, symlink targets)
// is written into a sidecar directory, not top-level stat attributes.
type WebDAV struct {
	BaseURL  string
	Username string
	Password string

	client *gowebdav.Client
}

func NewWebDAV(baseURL, username, password string) *WebDAV {
	return &WebDAV{BaseURL: baseURL, Username: username, Password: password}
}

func (w *WebDAV) conn() *gowebdav.Client {
	if w.client == nil {
		w.client = gowebdav.NewClient(w.BaseURL, w.Username, w.Password)
	}
	return w.client
}

func (w *WebDAV) Kind() string { return "webdav" }

func (w *WebDAV) SnapshotRoot(runID string) string {
	return path.Join("/", runID)
}

func (w *WebDAV) WriteFile(ctx context.Context, root string, entry WriteEntry) error {
	full := path.Join(root, entry.Path)
	if err := w.mkdirAllParent(full); err != nil {
		return err
	}
	if err := w.conn().WriteStream(full, entry.Data, 0o644); err != nil {
		return apperr.Wrap(classifyWebDAVErr(err), "write file to webdav target", err)
	}
	return nil
}

func (w *WebDAV) mkdirAllParent(full string) error {
	dir := path.Dir(full)
	if dir == "." || dir == "/" {
		return nil
	}
	if err := w.conn().MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(classifyWebDAVErr(err), "create webdav collection", err)
	}
	return nil
}

// WriteComplete writes complete.json last, mirroring LocalDir's ordering
// invariant: a PROPFIND that finds data files but no complete.json must
// treat the snapshot as not yet finished.
func (w *WebDAV) WriteComplete(ctx context.Context, root string, data []byte) error {
	full := path.Join(root, "complete.json")
	if err := w.conn().Write(full, data, 0o644); err != nil {
		return apperr.Wrap(classifyWebDAVErr(err), "write completion marker", err)
	}
	return nil
}

func (w *WebDAV) List(ctx context.Context, p string) ([]Entry, error) {
	infos, err := w.conn().ReadDir(p)
	if err != nil {
		return nil, apperr.Wrap(classifyWebDAVErr(err), "list webdav collection", err)
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, Entry{
			Name:    info.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (w *WebDAV) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := w.conn().ReadStream(p)
	if err != nil {
		return nil, apperr.Wrap(classifyWebDAVErr(err), "open webdav file", err)
	}
	return r, nil
}

// Delete removes a snapshot's collection. A 404 from the server is treated
// as success: the delete queue must be idempotent, and a prior attempt may
// have already removed the collection before crashing on a later step.
func (w *WebDAV) Delete(ctx context.Context, root string) error {
	err := w.conn().RemoveAll(root)
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return nil
	}
	return apperr.Wrap(classifyWebDAVErr(err), "delete webdav collection", err)
}

// Diagnose renders the target URL with any embedded userinfo stripped, so
// credentials never reach logs or the dashboard.
func (w *WebDAV) Diagnose() string {
	u, err := url.Parse(w.BaseURL)
	if err != nil {
		return "webdav:<unparseable-url>"
	}
	u.User = nil
	return fmt.Sprintf("webdav:%s", u.String())
}

func isNotFound(err error) bool {
	if se, ok := err.(*os.PathError); ok {
		return strings.Contains(se.Err.Error(), "404")
	}
	return strings.Contains(err.Error(), "404")
}

func classifyWebDAVErr(err error) apperr.Kind {
	if err == nil {
		return apperr.KindInternal
	}
	msg := err.Error()
	switch {
	case isNotFound(err):
		return apperr.KindIONotFound
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return apperr.KindAuth
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"), strings.Contains(msg, "no such host"):
		return apperr.KindNetwork
	default:
		return apperr.KindHTTP
	}
}
