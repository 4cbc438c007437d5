package restore

import (
	"context"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/backup"
)

// Progress is reported after each entry for operation progress_json.
type Progress struct {
	EntriesDone, EntriesTotal int
	BytesDone, BytesTotal     int64
	SkippedConflicts          int
}

// ProgressFunc is throttled by the caller (internal/scheduler's ≤1/s rule
// applies equally to restore operations); the engine itself calls it once
// per entry and leaves throttling to the subscriber.
type ProgressFunc func(Progress)

// Run streams every selected entry from source to sink under policy,
// normalizing paths and applying conflict resolution before any write.
func Run(ctx context.Context, source ArtifactSource, sink RestoreSink, sel Selection, policy ConflictPolicy, onProgress ProgressFunc) error {
	entries, err := source.ReadEntries(ctx)
	if err != nil {
		return err
	}

	var total int64
	selected := make([]backup.Entry, 0, len(entries))
	for _, e := range entries {
		if !sel.Matches(e.Path) {
			continue
		}
		selected = append(selected, e)
		total += e.Size
	}

	var progress Progress
	progress.EntriesTotal = len(selected)
	progress.BytesTotal = total

	for _, e := range selected {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindInternal, "restore canceled", err)
		}

		destPath, err := SafeRelPath(e.Path)
		if err != nil {
			return err
		}

		exists, err := sink.Exists(ctx, destPath)
		if err != nil {
			return err
		}
		if exists {
			switch policy {
			case ConflictSkip:
				progress.SkippedConflicts++
				progress.EntriesDone++
				if onProgress != nil {
					onProgress(progress)
				}
				continue
			case ConflictFail:
				return apperr.New(apperr.KindValidation, "destination already exists: "+destPath)
			case ConflictOverwrite:
				// fall through to write, replacing the existing path
			}
		}

		if err := writeOne(ctx, source, sink, destPath, e); err != nil {
			return err
		}

		progress.EntriesDone++
		progress.BytesDone += e.Size
		if onProgress != nil {
			onProgress(progress)
		}
	}
	return nil
}

func writeOne(ctx context.Context, source ArtifactSource, sink RestoreSink, destPath string, e backup.Entry) error {
	switch e.Kind {
	case backup.EntryDir:
		return sink.WriteDir(ctx, destPath, e)
	case backup.EntrySymlink:
		return sink.WriteSymlink(ctx, destPath, e)
	default:
		r, err := source.OpenEntry(ctx, e)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := sink.WriteEntry(ctx, destPath, e, r); err != nil {
			return err
		}
		return sink.ApplyMetadata(ctx, destPath, e)
	}
}
