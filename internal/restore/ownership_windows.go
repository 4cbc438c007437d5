//go:build windows

package restore

import "github.com/cuemby/bastion/internal/backup"

// applyOwnership is a no-op on Windows, which has no POSIX uid/gid model.
func applyOwnership(path string, entry backup.Entry) {}
