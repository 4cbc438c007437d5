//go:build !windows

package restore

import (
	"os"

	"github.com/cuemby/bastion/internal/backup"
)

// applyOwnership is best-effort: chown commonly fails for a non-root
// process restoring another user's files, and that failure must not make
// the restore operation fail.
func applyOwnership(path string, entry backup.Entry) {
	if entry.UID == 0 && entry.GID == 0 {
		return
	}
	os.Chown(path, entry.UID, entry.GID)
}
