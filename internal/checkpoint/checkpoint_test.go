package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/checkpoint"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/fsutil"
)

// fakeEngine stands in for *engine.Engine: checkpoint.Create only needs the
// small read-only surface described by sourceEngine, and a real grocksdb
// engine is not available in this package's test environment.
type fakeEngine struct {
	dir              string
	seq              uint64
	live             []engine.LiveFile
	wal              []engine.WALFile
	deletionDisabled bool
	enableCalled     bool
}

func (f *fakeEngine) Dir() string                   { return f.dir }
func (f *fakeEngine) LatestSequenceNumber() uint64   { return f.seq }
func (f *fakeEngine) LiveFiles() []engine.LiveFile   { return f.live }
func (f *fakeEngine) SortedWALFiles() ([]engine.WALFile, error) { return f.wal, nil }

func (f *fakeEngine) DisableFileDeletions() error {
	f.deletionDisabled = true
	return nil
}

func (f *fakeEngine) EnableFileDeletions() error {
	f.enableCalled = true
	f.deletionDisabled = false
	return nil
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func newFakeEngineDir(t *testing.T) (*fakeEngine, string) {
	t.Helper()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "000010.sst"), "sst-content-one")
	writeFile(t, filepath.Join(dir, "000011.sst"), "sst-content-two")
	writeFile(t, filepath.Join(dir, "MANIFEST-000005"), "manifest-bytes-at-snapshot-time")
	writeFile(t, filepath.Join(dir, "CURRENT"), "MANIFEST-000004\n") // stale on purpose
	writeFile(t, filepath.Join(dir, "000001.log"), "wal-segment-one-sealed")
	writeFile(t, filepath.Join(dir, "000002.log"), "wal-segment-two-active-tail")

	fe := &fakeEngine{
		dir: dir,
		seq: 42,
		live: []engine.LiveFile{
			{Name: "000010.sst", Level: 0, Size: uint64(len("sst-content-one"))},
			{Name: "000011.sst", Level: 0, Size: uint64(len("sst-content-two"))},
			{Name: "MANIFEST-000005", Size: uint64(len("manifest-bytes-at-snapshot-time"))},
			{Name: "CURRENT", Size: 16},
		},
		wal: []engine.WALFile{
			{Name: filepath.Join(dir, "000001.log"), SequenceNumber: 30, SizeBytes: uint64(len("wal-segment-one-sealed")), Alive: false},
			{Name: filepath.Join(dir, "000002.log"), SequenceNumber: 42, SizeBytes: uint64(len("wal-segment-two-active-tail")), Alive: true},
		},
	}

	return fe, dir
}

func Test_Create_StagesLiveFilesAndSynthesizesCURRENT(t *testing.T) {
	t.Parallel()

	fe, _ := newFakeEngineDir(t)
	fs := fsutil.NewReal()
	dest := filepath.Join(t.TempDir(), "dump", "snap-1")

	status, err := checkpoint.Create(fe, fs, dest)
	require.NoError(t, err)

	require.Equal(t, dest, status.Dir)
	require.Equal(t, uint64(42), status.SequenceNumber)

	require.True(t, fe.enableCalled, "file deletions must be re-enabled even on success")
	require.False(t, fe.deletionDisabled)

	current, err := os.ReadFile(filepath.Join(dest, "CURRENT"))
	require.NoError(t, err)
	require.Equal(t, "MANIFEST-000005\n", string(current))

	manifest, err := os.ReadFile(filepath.Join(dest, "MANIFEST-000005"))
	require.NoError(t, err)
	require.Equal(t, "manifest-bytes-at-snapshot-time", string(manifest))

	sst, err := os.ReadFile(filepath.Join(dest, "000010.sst"))
	require.NoError(t, err)
	require.Equal(t, "sst-content-one", string(sst))

	// The sealed WAL at seq 30 < S=42 is dropped; only the active tail survives.
	_, err = os.Stat(filepath.Join(dest, "000001.log"))
	require.True(t, os.IsNotExist(err))

	tail, err := os.ReadFile(filepath.Join(dest, "000002.log"))
	require.NoError(t, err)
	require.Equal(t, "wal-segment-two-active-tail", string(tail))

	// No leftover staging directory.
	_, err = os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func Test_Create_HardLinksSSTsOnSameFilesystem(t *testing.T) {
	t.Parallel()

	fe, srcDir := newFakeEngineDir(t)
	fs := fsutil.NewReal()
	dest := filepath.Join(filepath.Dir(srcDir), "checkpoint-dest")

	_, err := checkpoint.Create(fe, fs, dest)
	require.NoError(t, err)

	srcInfo, err := os.Stat(filepath.Join(srcDir, "000010.sst"))
	require.NoError(t, err)

	dstInfo, err := os.Stat(filepath.Join(dest, "000010.sst"))
	require.NoError(t, err)

	require.True(t, os.SameFile(srcInfo, dstInfo), "expected a hard link, not a copy")
}

func Test_Create_RefusesExistingDestination(t *testing.T) {
	t.Parallel()

	fe, _ := newFakeEngineDir(t)
	fs := fsutil.NewReal()
	dest := t.TempDir() // already exists

	_, err := checkpoint.Create(fe, fs, dest)
	require.Error(t, err)
}

func Test_Create_CleansUpTmpDirOnFailure(t *testing.T) {
	t.Parallel()

	fe, _ := newFakeEngineDir(t)
	fe.live = nil // no MANIFEST among live files -> stage() fails deliberately

	fs := fsutil.NewReal()
	dest := filepath.Join(t.TempDir(), "dump", "snap-fail")

	_, err := checkpoint.Create(fe, fs, dest)
	require.Error(t, err)
	require.True(t, fe.enableCalled, "file deletions must be re-enabled even on failure")

	_, statErr := os.Stat(dest + ".tmp")
	require.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func Test_Remove_DeletesCheckpointDirectory(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewReal()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MANIFEST-1"), "x")

	require.NoError(t, checkpoint.Remove(fs, dir))

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
