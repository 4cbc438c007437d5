package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// RawTreeOptions configures one raw_tree_v1 build. This format never
// encrypts or splits payload, per spec §4.4, so it has no analogue to
// ArchiveOptions.AgeRecipient/PartSize.
type RawTreeOptions struct {
	JobID, RunID   string
	SourceRoot     string
	SymlinkPolicy  SymlinkPolicy
	DirectDataPath bool // LocalDir-only: stage_dir/data is a symlink into the run dir
}

// RawTreeResult mirrors ArchiveResult; DataDir is where the data/ tree was
// actually written (either the staging copy, or the direct-data-path
// symlink target for LocalDir).
type RawTreeResult struct {
	Manifest    Manifest
	Entries     []Entry
	DataDir     string
	Consistency *ConsistencyReport
}

// BuildRawTree copies sourceRoot into stagingDir/data (or, when
// DirectDataPath is set against a LocalDir target, makes stagingDir/data a
// symlink straight into the target's run directory, skipping the copy
// entirely) and returns the manifest/entries describing it.
func BuildRawTree(stagingDir string, opts RawTreeOptions, directTargetDir string) (*RawTreeResult, error) {
	dataDir := filepath.Join(stagingDir, "data")

	if opts.DirectDataPath && directTargetDir != "" {
		if err := os.Symlink(directTargetDir, dataDir); err != nil {
			return nil, apperr.Wrap(apperr.KindIOPermission, "create direct data path symlink", err)
		}
		dataDir = directTargetDir
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIOPermission, "create staging data dir", err)
	}

	result := &RawTreeResult{DataDir: dataDir, Consistency: NewConsistencyReport()}
	seenHardlinks := map[hardlinkKey]string{}
	var fileCount int64
	var totalBytes int64

	walkErr := filepath.Walk(opts.SourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.Consistency.Record(path, ChangeReadError)
			return nil
		}
		rel, relErr := filepath.Rel(opts.SourceRoot, path)
		if relErr != nil || rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		destPath := filepath.Join(dataDir, rel)

		if info.Mode()&os.ModeSymlink != 0 && opts.SymlinkPolicy != SymlinkFollow {
			linkTarget, lerr := os.Readlink(path)
			if lerr != nil {
				result.Consistency.Record(slashRel, ChangeReadError)
				return nil
			}
			result.Entries = append(result.Entries, Entry{Path: slashRel, Kind: EntrySymlink, SymlinkTarget: linkTarget, Mode: uint32(info.Mode().Perm())})
			return nil
		}

		if info.IsDir() {
			result.Entries = append(result.Entries, Entry{Path: slashRel, Kind: EntryDir, Mode: uint32(info.Mode().Perm())})
			if !opts.DirectDataPath {
				if err := os.MkdirAll(destPath, 0o755); err != nil {
					return apperr.Wrap(apperr.KindIOPermission, "create destination directory", err)
				}
			}
			return nil
		}

		before := FingerprintOf(info)
		key, isHardlink := statHardlinkKey(info)
		if isHardlink {
			if groupPath, ok := seenHardlinks[key]; ok {
				result.Entries = append(result.Entries, Entry{Path: slashRel, Kind: EntryFile, Size: info.Size(), HardlinkGroup: groupPath, Mode: uint32(info.Mode().Perm())})
				return nil
			}
			seenHardlinks[key] = slashRel
		}

		n, hash, copyErr := copyAndHash(path, destPath, opts.DirectDataPath)
		if copyErr != nil {
			result.Consistency.Record(slashRel, ChangeReadError)
			return nil
		}

		after, statErr := os.Stat(path)
		if class := Classify(before, after, statErr); class != "" {
			result.Consistency.Record(slashRel, class)
		}

		entry := Entry{Path: slashRel, Kind: EntryFile, Size: n, Hash: hash, Mtime: info.ModTime(), Mode: uint32(info.Mode().Perm())}
		if isHardlink {
			entry.HardlinkGroup = slashRel
		}
		result.Entries = append(result.Entries, entry)
		fileCount++
		totalBytes += n
		return nil
	})
	if walkErr != nil {
		return nil, apperr.Wrap(apperr.KindIOPermission, "walk source tree", walkErr)
	}

	result.Manifest = Manifest{
		Format: string(model.FormatRawTreeV1), JobID: opts.JobID, RunID: opts.RunID,
		FileCount: fileCount, TotalBytes: totalBytes, DirectDataPath: opts.DirectDataPath,
	}
	return result, nil
}

// copyAndHash copies src to dst (unless directDataPath already placed the
// file in its final location) while hashing the bytes actually read, so
// the recorded hash matches what raw_tree_v1 stores even if the source
// mutates mid-copy.
func copyAndHash(src, dst string, skipCopy bool) (int64, string, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	hasher := sha256.New()
	var w io.Writer = hasher
	var out *os.File
	if !skipCopy {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return 0, "", err
		}
		out, err = os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return 0, "", err
		}
		defer out.Close()
		w = io.MultiWriter(hasher, out)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}
