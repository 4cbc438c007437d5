//go:build windows

package backup

import "os"

// statHardlinkKey has no portable equivalent via os.FileInfo.Sys() on
// Windows without opening the file for a BY_HANDLE_FILE_INFORMATION call;
// Windows builds archive every path as its own entry instead of detecting
// hardlink groups.
func statHardlinkKey(info os.FileInfo) (hardlinkKey, bool) {
	return hardlinkKey{}, false
}
