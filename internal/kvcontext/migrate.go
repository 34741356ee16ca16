package kvcontext

import (
	"fmt"

	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/migrate"
	"github.com/calvinalkan/kvserver/internal/slot"
)

// MgrtTagOne migrates exactly one named key to the peer, returning 1 if it
// was moved and 0 if it did not exist locally.
func (c *Context) MgrtTagOne(dbName string, opts migrate.Options, key []byte) (int, error) {
	db, ok := c.DB(dbName)
	if !ok {
		return 0, kverr.New(kverr.KindNotFound, "kvcontext.Context.MgrtTagOne", fmt.Errorf("unknown database %q", dbName))
	}

	if opts.Password == "" {
		opts.Password = c.Config.RequirePass
	}

	if err := opts.Validate("", c.Config.Port); err != nil {
		return 0, err
	}

	return migrate.MgrtTagOne(c.Pool, NewKeySource(db.Store), opts, key)
}

// MgrtTagSlot migrates one key of slotID synchronously: pop one indexed
// member, move it, delete it locally. It returns how many keys moved (0 or
// 1) and how many remain indexed for the slot.
func (c *Context) MgrtTagSlot(dbName string, opts migrate.Options, slotID uint32) (moved, remaining int, err error) {
	db, ok := c.DB(dbName)
	if !ok {
		return 0, 0, kverr.New(kverr.KindNotFound, "kvcontext.Context.MgrtTagSlot", fmt.Errorf("unknown database %q", dbName))
	}

	if opts.Password == "" {
		opts.Password = c.Config.RequirePass
	}

	if err := opts.Validate("", c.Config.Port); err != nil {
		return 0, 0, err
	}

	members, err := db.Store.PopMembers(slotID, 1)
	if err != nil {
		return 0, 0, err
	}

	if len(members) > 0 {
		_, key := slot.SplitMember(members[0])

		moved, err = migrate.MgrtTagOne(c.Pool, NewKeySource(db.Store), opts, key)
	}

	remaining, cardErr := db.Store.SlotCardinality(slotID)
	if err == nil {
		err = cardErr
	}

	return moved, remaining, err
}

// MgrtTagSlotAsync starts (or continues) the background batched migration
// of slotID, running one round of up to keysPerRound keys.
func (c *Context) MgrtTagSlotAsync(dbName string, opts migrate.Options, slotID uint32, keysPerRound int) (moved, remaining int, err error) {
	if opts.Password == "" {
		opts.Password = c.Config.RequirePass
	}

	if err := opts.Validate("", c.Config.Port); err != nil {
		return 0, 0, err
	}

	mover, err := c.MoverFor(dbName)
	if err != nil {
		return 0, 0, err
	}

	return mover.Start(opts, slotID, keysPerRound)
}
