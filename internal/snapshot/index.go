// Package snapshot owns the post-run snapshot lifecycle named in spec
// §4.9: indexing a finished run's artifact, asynchronously deleting
// artifacts through a retrying delete-queue worker, and a retention loop
// that enqueues deletes for snapshots a job's keep-last/keep-days policy no
// longer wants to keep. Grounded on internal/store's existing
// snapshot/delete-task repositories and the same "persist first, retry
// with backoff, never block the caller" shape internal/notify's queue
// uses.
package snapshot

import (
	"context"

	"github.com/cuemby/bastion/internal/model"
)

// Index upserts the run_artifact row for a finished run. Indexing is
// best-effort: a failure here must never fail the run (spec §4.8), so
// callers log the returned error and continue rather than propagate it.
func Index(ctx context.Context, store IndexStore, snap *model.Snapshot) error {
	return store.UpsertSnapshot(ctx, snap)
}

// IndexStore is the subset of internal/store.Store the indexing helper
// depends on.
type IndexStore interface {
	UpsertSnapshot(ctx context.Context, snap *model.Snapshot) error
}
