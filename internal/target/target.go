// Package target implements the storage backends a backup job writes to
// and a restore operation reads from: a local directory tree and a WebDAV
// server. Every backend satisfies the same Backend capability interface so
// internal/backup and internal/restore never need a type switch on target
// kind.
package target

import (
	"context"
	"io"
)

// WriteEntry is one logical file the backup builder streams to a target.
// Backends decide how to lay it out (archive part file vs. raw tree path).
type WriteEntry struct {
	Path string // relative path within the snapshot's directory
	Size int64
	Data io.Reader
}

// Backend is the capability surface every target implementation exposes.
// Builders only call the subset of methods their format needs; a target
// that cannot support optional capabilities (none currently) would expose
// that via a narrower embedded interface, following the tagged-variant
// pattern in the restore engine for ArtifactSource/RestoreSink.
type Backend interface {
	// Kind identifies the backend for diagnostics and the target_snapshot
	// record captured at run start.
	Kind() string

	// SnapshotRoot returns the path prefix (directory or URL) a given
	// snapshot (identified by run id) should be written under.
	SnapshotRoot(runID string) string

	// WriteFile streams one entry to the target under root, creating
	// intermediate directories/collections as needed.
	WriteFile(ctx context.Context, root string, entry WriteEntry) error

	// WriteComplete writes the completion marker last, after every data
	// file and the manifest/entries index are already durable. Its
	// presence is what marks a snapshot as valid and browsable.
	WriteComplete(ctx context.Context, root string, data []byte) error

	// List returns entries directly under a listing path, used by
	// fs/webdav browse endpoints and the restore engine's discovery.
	List(ctx context.Context, path string) ([]Entry, error)

	// Open returns a reader for a stored file, used by restore sources.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a snapshot's entire root, used by the delete queue.
	// Deleting a path that no longer exists is success, not an error: the
	// delete queue must be idempotent across retries.
	Delete(ctx context.Context, root string) error

	// Diagnose returns a short human-readable description of the target
	// with any embedded credential redacted, for the doctor/dashboard
	// views.
	Diagnose() string
}

// Entry is one item returned by Backend.List.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime string // RFC3339, empty if unknown
}
