package backup

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

// DefaultPartSize bounds a single payload.partNNNN file so uploads can
// stream-and-delete incrementally instead of buffering one huge file.
const DefaultPartSize = 256 * 1024 * 1024

// SymlinkPolicy controls how archive_v1 handles symlinked sources.
type SymlinkPolicy string

const (
	SymlinkFollow SymlinkPolicy = "follow"
	SymlinkRecord SymlinkPolicy = "record"
)

// ArchiveOptions configures one archive_v1 build.
type ArchiveOptions struct {
	JobID, RunID  string
	SourceRoot    string
	SymlinkPolicy SymlinkPolicy
	PartSize      int64
	AgeRecipient  *age.X25519Recipient // nil disables encryption
}

// ArchiveResult is returned once staging finishes; the caller (the backup
// executor) then hands parts/index/manifest to the target backend.
type ArchiveResult struct {
	Manifest   Manifest
	Entries    []Entry
	PartPaths  []string // local staging paths, in order
	Consistency *ConsistencyReport
}

// hardlinkKey identifies a hardlinked inode; populated only on platforms
// where os.FileInfo.Sys() yields dev/inode (build-tagged files supply
// statHardlinkKey).
type hardlinkKey struct {
	Dev, Ino uint64
}

// BuildArchive walks sourceRoot, writes a streaming tar+zstd pipeline to
// stagingDir, and returns the manifest/entries describing it. Each file is
// hashed from the exact bytes written into the tar stream (single-read
// hashing), so a source mutating mid-backup cannot desynchronize the
// recorded hash from the archived bytes.
func BuildArchive(stagingDir string, opts ArchiveOptions) (*ArchiveResult, error) {
	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	pw := newPartWriter(stagingDir, partSize)
	defer pw.Close()

	var tw *tar.Writer
	zw, err := zstd.NewWriter(pw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create zstd writer", err)
	}
	var out io.Writer = zw
	var ageWriter io.WriteCloser
	if opts.AgeRecipient != nil {
		ageWriter, err = age.Encrypt(zw, opts.AgeRecipient)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "create age encryption stream", err)
		}
		out = ageWriter
	}
	tw = tar.NewWriter(out)

	result := &ArchiveResult{Consistency: NewConsistencyReport()}
	seenHardlinks := map[hardlinkKey]string{}
	var fileCount int64
	var totalBytes int64

	walkErr := filepath.Walk(opts.SourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.Consistency.Record(path, ChangeReadError)
			return nil // best-effort: keep walking past a single unreadable entry
		}
		rel, relErr := filepath.Rel(opts.SourceRoot, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)

		if info.Mode()&os.ModeSymlink != 0 && opts.SymlinkPolicy != SymlinkFollow {
			linkTarget, lerr := os.Readlink(path)
			if lerr != nil {
				result.Consistency.Record(slashRel, ChangeReadError)
				return nil
			}
			entry := Entry{Path: slashRel, Kind: EntrySymlink, SymlinkTarget: linkTarget, Mode: uint32(info.Mode().Perm())}
			result.Entries = append(result.Entries, entry)
			return nil
		}

		if info.IsDir() {
			result.Entries = append(result.Entries, Entry{Path: slashRel, Kind: EntryDir, Mode: uint32(info.Mode().Perm())})
			return nil
		}

		before := FingerprintOf(info)
		key, isHardlink := statHardlinkKey(info)
		if isHardlink {
			if groupPath, ok := seenHardlinks[key]; ok {
				result.Entries = append(result.Entries, Entry{
					Path: slashRel, Kind: EntryFile, Size: info.Size(),
					HardlinkGroup: groupPath, Mode: uint32(info.Mode().Perm()),
				})
				return nil
			}
			seenHardlinks[key] = slashRel
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			result.Consistency.Record(slashRel, ChangeReadError)
			return nil
		}
		defer f.Close()

		hdr := &tar.Header{Name: slashRel, Mode: int64(info.Mode().Perm()), Size: info.Size(), ModTime: info.ModTime()}
		if err := tw.WriteHeader(hdr); err != nil {
			return apperr.Wrap(apperr.KindInternal, "write tar header", err)
		}

		hasher := sha256.New()
		n, copyErr := io.Copy(io.MultiWriter(tw, hasher), f)
		if copyErr != nil {
			result.Consistency.Record(slashRel, ChangeReadError)
			return nil
		}

		after, statErr := os.Stat(path)
		if class := Classify(before, after, statErr); class != "" {
			result.Consistency.Record(slashRel, class)
		}

		entry := Entry{
			Path: slashRel, Kind: EntryFile, Size: n,
			Hash: hex.EncodeToString(hasher.Sum(nil)),
			Mtime: info.ModTime(), Mode: uint32(info.Mode().Perm()),
		}
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

	if err := tw.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "close tar writer", err)
	}
	if ageWriter != nil {
		if err := ageWriter.Close(); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "close age encryption stream", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "close zstd writer", err)
	}
	if err := pw.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindIOPermission, "close staging part writer", err)
	}

	result.Manifest = Manifest{
		Format: string(model.FormatArchiveV1), JobID: opts.JobID, RunID: opts.RunID,
		FileCount: fileCount, TotalBytes: totalBytes,
		Encrypted: opts.AgeRecipient != nil, PartCount: pw.partCount,
	}
	if opts.AgeRecipient != nil {
		result.Manifest.AgeRecipient = opts.AgeRecipient.String()
	}
	result.PartPaths = pw.partPaths
	return result, nil
}

// partWriter splits a continuous byte stream into payload.partNNNN files
// of at most partSize bytes each, so parts can begin uploading as soon as
// they finalize instead of waiting for the whole archive.
type partWriter struct {
	dir      string
	partSize int64

	cur       *os.File
	curSize   int64
	partCount int
	partPaths []string
}

func newPartWriter(dir string, partSize int64) *partWriter {
	return &partWriter{dir: dir, partSize: partSize}
}

func (p *partWriter) Write(b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		if p.cur == nil {
			if err := p.rotate(); err != nil {
				return total, err
			}
		}
		remain := p.partSize - p.curSize
		chunk := b
		if int64(len(chunk)) > remain {
			chunk = chunk[:remain]
		}
		n, err := p.cur.Write(chunk)
		total += n
		p.curSize += int64(n)
		if err != nil {
			return total, err
		}
		b = b[n:]
		if p.curSize >= p.partSize {
			if err := p.closeCurrent(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (p *partWriter) rotate() error {
	name := fmt.Sprintf("payload.part%04d", p.partCount)
	path := filepath.Join(p.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	p.cur = f
	p.curSize = 0
	p.partPaths = append(p.partPaths, path)
	p.partCount++
	return nil
}

func (p *partWriter) closeCurrent() error {
	if p.cur == nil {
		return nil
	}
	err := p.cur.Close()
	p.cur = nil
	return err
}

func (p *partWriter) Close() error {
	return p.closeCurrent()
}
