// Package kvcontext threads together the per-database engine, storage,
// binlog, and replication state built by the rest of internal/ into one
// immutable handle: built at startup, dropped at shutdown, passed to
// every command handler instead of package-level singletons.
package kvcontext

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/engine/filter"
	"github.com/calvinalkan/kvserver/internal/fsutil"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/lock"
	"github.com/calvinalkan/kvserver/internal/repl"
	"github.com/calvinalkan/kvserver/internal/store"
)

// Database is one `<data_dir>/db<i>` tree:
// its engine, the storage surface built over it, its binlog, and its
// replication sessions (master-side fan-out and slave-side session, at
// most one of which is active depending on role).
type Database struct {
	Name string

	Engine *engine.Engine
	Store  *store.Store
	Binlog *binlog.Binlog

	Master *repl.MasterDB
	Slave  *repl.SlaveSession

	dir     string
	dirLock *fsutil.Lock
}

// openDatabase opens (creating if needed) one database directory, taking
// the directory's advisory lock, then wiring the meta/data compaction
// filters to the engine and the storage layer to the resulting engine + a
// fresh per-key lock keyspace.
func openDatabase(dataDir, name string, now store.Clock, slotEnabled store.SlotMigrateEnabled) (*Database, error) {
	dbDir := filepath.Join(dataDir, name)

	if err := defaultFS.MkdirAll(dbDir, 0o750); err != nil {
		return nil, kverr.New(kverr.KindIOError, "kvcontext.openDatabase", err)
	}

	// One process per database directory; a second Open of the same tree
	// fails fast instead of corrupting the engine underneath the first.
	dirLock, err := fsutil.NewLocker(defaultFS).TryLock(filepath.Join(dbDir, "LOCK"))
	if err != nil {
		if errors.Is(err, fsutil.ErrWouldBlock) {
			return nil, kverr.New(kverr.KindBusy, "kvcontext.openDatabase", err)
		}

		return nil, kverr.New(kverr.KindIOError, "kvcontext.openDatabase", err)
	}

	dataFilter := &filter.DataFilter{}

	eng, err := engine.Open(filepath.Join(dbDir, "engine"), engine.Options{
		CreateIfMissing: true,
		MetaFilter:      filter.MetaFilter{},
		DataFilter:      dataFilter,
	})
	if err != nil {
		_ = dirLock.Close()
		return nil, kverr.New(kverr.KindIOError, "kvcontext.openDatabase", err)
	}

	dataFilter.Meta = eng

	bl, err := binlog.Open(filepath.Join(dbDir, "log"), defaultFS, binlog.Options{
		MaxSegmentBytes: defaultMaxSegmentBytes,
		FlushInterval:   defaultFlushInterval,
	})
	if err != nil {
		eng.Close()
		_ = dirLock.Close()

		return nil, err
	}

	st := store.New(eng, lock.NewKeyspace(), now)
	st.EnableSlotIndex(slotEnabled)

	return &Database{
		Name:    name,
		Engine:  eng,
		Store:   st,
		Binlog:  bl,
		Master:  repl.NewMasterDB(),
		dir:     dbDir,
		dirLock: dirLock,
	}, nil
}

// Close releases the database's engine, binlog, and directory-lock
// handles. It does not remove any on-disk state.
func (d *Database) Close() error {
	var err error

	if d.Binlog != nil {
		err = d.Binlog.Close()
	}

	if d.Engine != nil {
		d.Engine.Close()
	}

	if d.dirLock != nil {
		err = errors.Join(err, d.dirLock.Close())
	}

	return err
}

const (
	defaultMaxSegmentBytes = 64 << 20
	defaultFlushInterval   = 200 * time.Millisecond
)
