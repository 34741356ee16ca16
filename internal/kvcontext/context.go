package kvcontext

import (
	"fmt"
	"sync"
	"time"

	"github.com/calvinalkan/kvserver/internal/config"
	"github.com/calvinalkan/kvserver/internal/fsutil"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/migrate"
	"github.com/calvinalkan/kvserver/internal/repl"
	"github.com/calvinalkan/kvserver/internal/store"
)

var defaultFS fsutil.FS = fsutil.NewReal()

func newAtomicWriter() *fsutil.AtomicWriter { return fsutil.NewAtomicWriter(defaultFS) }

// Context is the immutable server handle: built once at startup and
// threaded through every command handler in place of global
// dispatcher/server/config singletons.
type Context struct {
	Config config.Config

	mu  sync.RWMutex
	dbs map[string]*Database

	Pool  *migrate.Pool
	Mover *migrate.Mover
	Guard *repl.Guard
}

// Open builds a Context rooted at cfg.DataDir, opening every database name
// listed in dbNames. Databases are
// created on first Open, matching the engine's own CreateIfMissing policy.
func Open(cfg config.Config, dbNames []string, now store.Clock) (*Context, error) {
	ctx := &Context{
		Config: cfg,
		dbs:    make(map[string]*Database, len(dbNames)),
		Pool:   migrate.NewPool(5 * time.Second),
	}

	slotEnabled := func() bool { return ctx.Config.SlotMigrate }

	for _, name := range dbNames {
		db, err := openDatabase(cfg.DataDir, name, now, slotEnabled)
		if err != nil {
			ctx.Close()
			return nil, fmt.Errorf("kvcontext.Open: open database %q: %w", name, err)
		}

		ctx.dbs[name] = db
	}

	ctx.Mover = migrate.NewMover(ctx.Pool, nil, nil, slotEnabled)

	return ctx, nil
}

// DB returns the named database, or ok=false if it was never opened.
func (c *Context) DB(name string) (*Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, ok := c.dbs[name]

	return db, ok
}

// DBNames returns every open database's name.
func (c *Context) DBNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		out = append(out, name)
	}

	return out
}

// MoverFor binds the shared migration Mover to db's storage. The mover is
// one per server, but the key source it pops from and migrates is
// database-scoped; while a migration is in flight the existing binding is
// returned unchanged and a conflicting Start is rejected by the mover
// itself.
func (c *Context) MoverFor(name string) (*migrate.Mover, error) {
	db, ok := c.DB(name)
	if !ok {
		return nil, kverr.New(kverr.KindNotFound, "kvcontext.Context.MoverFor", fmt.Errorf("unknown database %q", name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Mover != nil && c.Mover.AsyncStatus().Migrating {
		return c.Mover, nil
	}

	slotEnabled := func() bool { return c.Config.SlotMigrate }
	src := NewKeySource(db.Store)

	c.Mover = migrate.NewMover(c.Pool, src, db.Store, slotEnabled)

	return c.Mover, nil
}

// EnableLeaderProtection installs a repl.Guard requiring at least minAcked
// distinct slaves to have acked within window before writes are accepted.
func (c *Context) EnableLeaderProtection(minAcked int, window time.Duration) {
	c.Guard = repl.NewGuard(minAcked, window)
}

// CheckWritable returns an Unavailable error if leader protection is
// enabled and not currently satisfied; nil if no Guard is installed.
func (c *Context) CheckWritable() error {
	if c.Guard == nil {
		return nil
	}

	return c.Guard.Check()
}

// Close releases every open database and the migration connection pool.
// It is safe to call on a partially-initialized Context (e.g. from a
// failed Open).
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, db := range c.dbs {
		_ = db.Close()
	}

	if c.Pool != nil {
		c.Pool.CloseAll()
	}
}
