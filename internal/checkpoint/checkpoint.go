// Package checkpoint produces a consistent, self-contained snapshot of
// one database's live engine files plus a frozen WAL tail, staged into a
// directory and published for the file-serving collaborator to ship to a
// lagging slave.
//
// Staging writes into a ".tmp" sibling, then atomically renames over the
// final path; the ".tmp" is removed on any failure.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/fsutil"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// sourceEngine is the subset of *engine.Engine the checkpoint creator
// needs; satisfied by the real engine, faked in tests.
type sourceEngine interface {
	Dir() string
	LatestSequenceNumber() uint64
	DisableFileDeletions() error
	EnableFileDeletions() error
	LiveFiles() []engine.LiveFile
	SortedWALFiles() ([]engine.WALFile, error)
}

// Status reports the outcome of a successful Create.
type Status struct {
	// Dir is the final, published checkpoint directory.
	Dir string
	// SequenceNumber is S, the engine sequence number the snapshot is
	// consistent as of.
	SequenceNumber uint64
	// Files lists every file written into Dir, relative to it.
	Files []string
}

const manifestPrefix = "MANIFEST-"

const currentFileName = "CURRENT"

// Create produces a checkpoint directory at dir. dir must not already
// exist; dir+".tmp" is used as a staging area and is removed on any
// failure, leaving dir absent.
func Create(eng sourceEngine, fs fsutil.FS, dir string) (Status, error) {
	if exists, err := fs.Exists(dir); err != nil {
		return Status{}, kverr.New(kverr.KindIOError, "checkpoint.Create", err)
	} else if exists {
		return Status{}, kverr.New(kverr.KindInvalidArgument, "checkpoint.Create", fmt.Errorf("checkpoint dir %q already exists", dir))
	}

	// Step 1: record S before disabling deletions, so a compaction racing
	// ahead of us cannot invalidate files we are about to enumerate.
	seq := eng.LatestSequenceNumber()

	// Step 2: disable automatic file deletions so the live files we
	// enumerate in step 3 cannot be reclaimed out from under us while we
	// stage the copy.
	if err := eng.DisableFileDeletions(); err != nil {
		return Status{}, kverr.New(kverr.KindIOError, "checkpoint.Create", err)
	}

	status, err := stage(eng, fs, dir, seq)

	// Step 6 (first half): re-enable file deletions unconditionally, even
	// on failure - never leave the live engine stuck refusing to reclaim
	// space because a checkpoint attempt failed partway through.
	enableErr := eng.EnableFileDeletions()

	if err != nil {
		return Status{}, errors.Join(err, wrapEnableErr(enableErr))
	}

	if enableErr != nil {
		return Status{}, wrapEnableErr(enableErr)
	}

	return status, nil
}

func wrapEnableErr(err error) error {
	if err == nil {
		return nil
	}

	return kverr.New(kverr.KindIOError, "checkpoint.Create", fmt.Errorf("re-enable file deletions: %w", err))
}

func stage(eng sourceEngine, fs fsutil.FS, dir string, seq uint64) (status Status, err error) {
	tmpDir := dir + ".tmp"

	if err := fs.MkdirAll(tmpDir, 0o750); err != nil {
		return Status{}, kverr.New(kverr.KindIOError, "checkpoint.stage", fmt.Errorf("mkdir %q: %w", tmpDir, err))
	}

	defer func() {
		if err != nil {
			_ = fs.RemoveAll(tmpDir)
		}
	}()

	liveFiles := eng.LiveFiles()

	var manifestName string

	var written []string

	for _, lf := range liveFiles {
		name := filepath.Base(lf.Name)

		switch {
		case strings.HasPrefix(name, manifestPrefix):
			manifestName = name

			if err := copyExactly(fs, eng.Dir(), tmpDir, name, int64(lf.Size)); err != nil {
				return Status{}, err
			}
		case name == currentFileName:
			// Synthesized below from manifestName rather than copied, so
			// CURRENT always names the MANIFEST we actually snapshotted.
			continue
		default:
			if err := linkOrCopy(fs, eng.Dir(), tmpDir, name); err != nil {
				return Status{}, err
			}
		}

		written = append(written, name)
	}

	if manifestName == "" {
		return Status{}, kverr.New(kverr.KindCorruption, "checkpoint.stage", fmt.Errorf("no MANIFEST file among live files"))
	}

	if err := writeCurrentFile(fs, tmpDir, manifestName); err != nil {
		return Status{}, err
	}

	written = append(written, currentFileName)

	walFiles, err := eng.SortedWALFiles()
	if err != nil {
		return Status{}, err
	}

	for i, wf := range walFiles {
		if wf.SequenceNumber < seq && !wf.Alive {
			continue
		}

		name := filepath.Base(wf.Name)
		last := i == len(walFiles)-1

		if last {
			// Step 5: the final WAL is always copied with its exact
			// current size to freeze a consistent tail.
			if err := copyWholeFile(fs, eng.Dir(), tmpDir, name); err != nil {
				return Status{}, err
			}
		} else if err := linkOrCopy(fs, eng.Dir(), tmpDir, name); err != nil {
			return Status{}, err
		}

		written = append(written, name)
	}

	if err := fs.Rename(tmpDir, dir); err != nil {
		return Status{}, kverr.New(kverr.KindIOError, "checkpoint.stage", fmt.Errorf("rename %q -> %q: %w", tmpDir, dir, err))
	}

	if err := fsyncParent(fs, dir); err != nil {
		return Status{}, err
	}

	return Status{Dir: dir, SequenceNumber: seq, Files: written}, nil
}

// linkOrCopy hard-links name from srcDir into dstDir when possible, falling back to a full copy across filesystems
// or for any file type where linking fails for a reason other than a
// cross-device boundary.
func linkOrCopy(fs fsutil.FS, srcDir, dstDir, name string) error {
	src := filepath.Join(srcDir, name)
	dst := filepath.Join(dstDir, name)

	if err := fs.Link(src, dst); err == nil {
		return nil
	}

	return copyWholeFile(fs, srcDir, dstDir, name)
}

func copyWholeFile(fs fsutil.FS, srcDir, dstDir, name string) error {
	info, err := fs.Stat(filepath.Join(srcDir, name))
	if err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.copyWholeFile", err)
	}

	return copyExactly(fs, srcDir, dstDir, name, info.Size())
}

// copyExactly copies exactly n bytes of srcDir/name into dstDir/name.
func copyExactly(fs fsutil.FS, srcDir, dstDir, name string, n int64) error {
	src, err := fs.Open(filepath.Join(srcDir, name))
	if err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.copyExactly", err)
	}

	defer func() { _ = src.Close() }()

	dst, err := fs.Create(filepath.Join(dstDir, name))
	if err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.copyExactly", err)
	}

	if _, err := io.CopyN(dst, src, n); err != nil && !errors.Is(err, io.EOF) {
		closeErr := dst.Close()

		return kverr.New(kverr.KindIOError, "checkpoint.copyExactly", errors.Join(fmt.Errorf("copy %q: %w", name, err), closeErr))
	}

	if err := dst.Sync(); err != nil {
		closeErr := dst.Close()

		return kverr.New(kverr.KindIOError, "checkpoint.copyExactly", errors.Join(err, closeErr))
	}

	if err := dst.Close(); err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.copyExactly", err)
	}

	return nil
}

// writeCurrentFile synthesizes the CURRENT file's content rather than
// copying it, so it always names the MANIFEST that was actually snapshotted.
func writeCurrentFile(fs fsutil.FS, dir, manifestName string) error {
	content := manifestName + "\n"

	f, err := fs.Create(filepath.Join(dir, currentFileName))
	if err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.writeCurrentFile", err)
	}

	if _, err := f.Write([]byte(content)); err != nil {
		closeErr := f.Close()

		return kverr.New(kverr.KindIOError, "checkpoint.writeCurrentFile", errors.Join(err, closeErr))
	}

	if err := f.Sync(); err != nil {
		closeErr := f.Close()

		return kverr.New(kverr.KindIOError, "checkpoint.writeCurrentFile", errors.Join(err, closeErr))
	}

	return f.Close()
}

func fsyncParent(fs fsutil.FS, dir string) error {
	parent := filepath.Dir(dir)

	f, err := fs.Open(parent)
	if err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.fsyncParent", err)
	}

	syncErr := f.Sync()
	closeErr := f.Close()

	if syncErr != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.fsyncParent", errors.Join(syncErr, closeErr))
	}

	if closeErr != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.fsyncParent", closeErr)
	}

	return nil
}

// Remove deletes a checkpoint directory entirely, used by retention
// cleanup.
func Remove(fs fsutil.FS, dir string) error {
	if err := fs.RemoveAll(dir); err != nil {
		return kverr.New(kverr.KindIOError, "checkpoint.Remove", err)
	}

	return nil
}

// compile-time check that the real engine satisfies sourceEngine.
var _ sourceEngine = (*engine.Engine)(nil)
