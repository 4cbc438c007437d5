package backup

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!!"), 0o644))
}

func TestBuildArchiveWalksSourceTree(t *testing.T) {
	src := t.TempDir()
	writeTestTree(t, src)
	stage := t.TempDir()

	res, err := BuildArchive(stage, ArchiveOptions{JobID: "job-1", RunID: "run-1", SourceRoot: src, SymlinkPolicy: SymlinkRecord})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Manifest.FileCount)
	assert.Equal(t, int64(12), res.Manifest.TotalBytes)
	assert.False(t, res.Manifest.Encrypted)
	assert.NotEmpty(t, res.PartPaths)

	var fileEntries int
	for _, e := range res.Entries {
		if e.Kind == EntryFile {
			fileEntries++
			assert.NotEmpty(t, e.Hash)
		}
	}
	assert.Equal(t, 2, fileEntries)
}

func TestBuildArchiveRecordsSymlinksWhenPolicyIsRecord(t *testing.T) {
	src := t.TempDir()
	writeTestTree(t, src)
	require.NoError(t, os.Symlink(filepath.Join(src, "a.txt"), filepath.Join(src, "link")))
	stage := t.TempDir()

	res, err := BuildArchive(stage, ArchiveOptions{JobID: "j", RunID: "r", SourceRoot: src, SymlinkPolicy: SymlinkRecord})
	require.NoError(t, err)

	var found bool
	for _, e := range res.Entries {
		if e.Path == "link" {
			found = true
			assert.Equal(t, EntrySymlink, e.Kind)
			assert.Equal(t, filepath.Join(src, "a.txt"), e.SymlinkTarget)
		}
	}
	assert.True(t, found, "symlink entry should be recorded, not followed")
}

func TestBuildArchiveSplitsPartsAtPartSize(t *testing.T) {
	src := t.TempDir()
	// Pseudo-random bytes, so zstd cannot shrink the stream below one part.
	data := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(data)
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), data, 0o644))
	stage := t.TempDir()

	res, err := BuildArchive(stage, ArchiveOptions{JobID: "j", RunID: "r", SourceRoot: src, SymlinkPolicy: SymlinkRecord, PartSize: 512})
	require.NoError(t, err)

	assert.Greater(t, len(res.PartPaths), 1)
	assert.Equal(t, len(res.PartPaths), res.Manifest.PartCount)
}

func TestConsistencyReportCapsSample(t *testing.T) {
	r := NewConsistencyReport()
	for i := 0; i < sampleCap+5; i++ {
		r.Record("path", ChangeReadError)
	}
	assert.Equal(t, sampleCap+5, r.Total)
	assert.Len(t, r.Sample, sampleCap)
	assert.True(t, r.SampleTruncated)
}

func TestClassifyDetectsSizeAndMtimeChanges(t *testing.T) {
	before := Fingerprint{Size: 10, Mtime: time.Unix(100, 0)}
	sameInfo := fakeFileInfo{size: 10, mtime: time.Unix(100, 0)}
	assert.Equal(t, ChangeClass(""), Classify(before, sameInfo, nil))

	resized := fakeFileInfo{size: 20, mtime: time.Unix(100, 0)}
	assert.Equal(t, ChangeReplaced, Classify(before, resized, nil))

	touched := fakeFileInfo{size: 10, mtime: time.Unix(200, 0)}
	assert.Equal(t, ChangeChanged, Classify(before, touched, nil))

	assert.Equal(t, ChangeDeleted, Classify(before, nil, os.ErrNotExist))
}

func TestApplyConsistencyPolicy(t *testing.T) {
	report := &ConsistencyReport{Total: 3}

	assert.Equal(t, PolicyOutcome{}, ApplyConsistencyPolicy("ignore", report, 0, false))

	warn := ApplyConsistencyPolicy("warn", report, 0, false)
	assert.True(t, warn.EmitEvent)
	assert.False(t, warn.Fail)

	fail := ApplyConsistencyPolicy("fail", report, 1, false)
	assert.True(t, fail.Fail)
	assert.True(t, fail.SkipUpload)

	failUnderThreshold := ApplyConsistencyPolicy("fail", report, 10, false)
	assert.False(t, failUnderThreshold.Fail)
}

type fakeFileInfo struct {
	size  int64
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return "fake" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }
