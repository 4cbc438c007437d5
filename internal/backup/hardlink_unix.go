//go:build !windows

package backup

import (
	"os"
	"syscall"
)

// statHardlinkKey extracts (dev, inode) from a file's platform-specific
// stat structure so files sharing an inode can be archived once and
// referenced by every later path (spec §4.4's hardlink group id).
func statHardlinkKey(info os.FileInfo) (hardlinkKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return hardlinkKey{}, false
	}
	if st.Nlink < 2 {
		return hardlinkKey{}, false
	}
	return hardlinkKey{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}, true
}
