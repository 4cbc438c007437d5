// Package restore implements the streaming restore/verify engine from
// spec §4.5: pluggable ArtifactSource/RestoreSink capability interfaces
// (the same tagged-variant pattern internal/target uses for backends),
// selection filtering, conflict policy enforcement, and best-effort
// metadata application.
package restore

import (
	"context"
	"io"

	"github.com/cuemby/bastion/internal/backup"
)

// ConflictPolicy controls how the sink handles a destination path that
// already exists.
type ConflictPolicy string

const (
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictSkip      ConflictPolicy = "skip"
	ConflictFail      ConflictPolicy = "fail"
)

// ArtifactSource reads a finished snapshot: its manifest, entries index,
// and the byte ranges of individual entries.
type ArtifactSource interface {
	// ReadManifest returns the snapshot's manifest.json contents.
	ReadManifest(ctx context.Context) (*backup.Manifest, error)
	// ReadEntries returns the decoded entries.jsonl.zst index.
	ReadEntries(ctx context.Context) ([]backup.Entry, error)
	// OpenEntry streams one entry's bytes, resolved through part files for
	// archive_v1 or the data/ tree for raw_tree_v1.
	OpenEntry(ctx context.Context, entry backup.Entry) (io.ReadCloser, error)
}

// RestoreSink writes restored bytes to their destination.
type RestoreSink interface {
	// Exists reports whether destPath is already present, for conflict
	// policy enforcement.
	Exists(ctx context.Context, destPath string) (bool, error)
	// WriteEntry writes one file's bytes to destPath.
	WriteEntry(ctx context.Context, destPath string, entry backup.Entry, data io.Reader) error
	// WriteDir ensures a directory exists at destPath.
	WriteDir(ctx context.Context, destPath string, entry backup.Entry) error
	// WriteSymlink creates a symlink at destPath, where supported; sinks
	// that cannot represent symlinks (most WebDAV servers) may no-op and
	// record that in the operation's progress/event log instead of
	// failing the whole restore.
	WriteSymlink(ctx context.Context, destPath string, entry backup.Entry) error
	// ApplyMetadata best-effort applies mtime/mode/uid/gid after the data
	// is written; failures here are logged, not fatal.
	ApplyMetadata(ctx context.Context, destPath string, entry backup.Entry) error
}

// Selection filters which entries an operation restores.
type Selection struct {
	// Paths are specific entry paths to restore; empty means "no path
	// filter" (Subtrees and the wildcard case below still apply).
	Paths []string
	// Subtrees are path prefixes; an entry matches if its path is under
	// any of these prefixes.
	Subtrees []string
}

// Matches reports whether entry.Path is included by the selection. An
// empty Selection matches everything.
func (s Selection) Matches(path string) bool {
	if len(s.Paths) == 0 && len(s.Subtrees) == 0 {
		return true
	}
	for _, p := range s.Paths {
		if p == path {
			return true
		}
	}
	for _, prefix := range s.Subtrees {
		if pathUnder(path, prefix) {
			return true
		}
	}
	return false
}

func pathUnder(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
