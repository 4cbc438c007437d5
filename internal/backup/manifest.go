// Package backup implements the two streaming backup builders named in
// spec §4.4: archive_v1 (tar+zstd parts, optional age encryption) and
// raw_tree_v1 (plain directory tree). Both builders share a manifest and
// entries-index format so the restore engine in internal/restore never
// needs to know which builder produced a snapshot.
package backup

import (
	"encoding/json"
	"time"
)

// Manifest is manifest.json: the top-level description of one snapshot.
type Manifest struct {
	Format        string    `json:"format"` // "archive_v1" or "raw_tree_v1"
	JobID         string    `json:"job_id"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	FileCount     int64     `json:"file_count"`
	TotalBytes    int64     `json:"total_bytes"`
	Encrypted     bool      `json:"encrypted"`
	AgeRecipient  string    `json:"age_recipient,omitempty"`
	PartCount     int       `json:"part_count,omitempty"`
	DirectDataPath bool     `json:"direct_data_path,omitempty"`
}

// EntryKind distinguishes regular files from directories, symlinks, and
// hardlink members within the entries index.
type EntryKind string

const (
	EntryFile    EntryKind = "file"
	EntryDir     EntryKind = "dir"
	EntrySymlink EntryKind = "symlink"
)

// Entry is one line of entries.jsonl.zst. Optional metadata fields are
// omitted when not applicable, per spec §4.4's raw_tree_v1 description.
type Entry struct {
	Path          string    `json:"path"`
	Kind          EntryKind `json:"kind"`
	Size          int64     `json:"size"`
	Hash          string    `json:"hash,omitempty"` // sha256 hex, absent for dirs/symlinks
	Mtime         time.Time `json:"mtime,omitempty"`
	Mode          uint32    `json:"mode,omitempty"`
	UID           int       `json:"uid,omitempty"`
	GID           int       `json:"gid,omitempty"`
	Xattrs        map[string]string `json:"xattrs,omitempty"`
	SymlinkTarget string    `json:"symlink_target,omitempty"`
	HardlinkGroup string    `json:"hardlink_group,omitempty"`

	// PartIndex/PartOffset locate the entry's bytes within archive_v1's
	// payload.partNNNN files; unused for raw_tree_v1, where Path is the
	// file's location under data/.
	PartIndex  int   `json:"part_index,omitempty"`
	PartOffset int64 `json:"part_offset,omitempty"`
}

// MarshalJSONL renders an entry as one entries.jsonl line.
func (e Entry) MarshalJSONL() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
