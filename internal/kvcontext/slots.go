package kvcontext

import (
	"fmt"

	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/slot"
)

// SlotInfo is one entry of SLOTSINFO's reply.
type SlotInfo struct {
	Slot        uint32
	Cardinality int
}

// SlotsInfo implements SLOTSINFO: the cardinality of every non-empty slot
// in db.
func (c *Context) SlotsInfo(dbName string) ([]SlotInfo, error) {
	db, ok := c.DB(dbName)
	if !ok {
		return nil, kverr.New(kverr.KindNotFound, "kvcontext.Context.SlotsInfo", fmt.Errorf("unknown database %q", dbName))
	}

	var out []SlotInfo

	for s := uint32(0); s < slot.Count; s++ {
		n, err := db.Store.SlotCardinality(s)
		if err != nil {
			return nil, err
		}

		if n > 0 {
			out = append(out, SlotInfo{Slot: s, Cardinality: n})
		}
	}

	return out, nil
}

// SlotsHashKey implements SLOTSHASHKEY: the slot index of each key.
func SlotsHashKey(keys [][]byte) []uint32 {
	out := make([]uint32, len(keys))
	for i, k := range keys {
		out[i] = slot.Of(k)
	}

	return out
}

// SlotsDel implements SLOTSDEL: deletes each slot's index set, reporting
// how many existed.
func (c *Context) SlotsDel(dbName string, slots []uint32) (int, error) {
	db, ok := c.DB(dbName)
	if !ok {
		return 0, kverr.New(kverr.KindNotFound, "kvcontext.Context.SlotsDel", fmt.Errorf("unknown database %q", dbName))
	}

	deleted := 0

	for _, s := range slots {
		existed, err := db.Store.SlotDelete(s)
		if err != nil {
			return deleted, err
		}

		if existed {
			deleted++
		}
	}

	return deleted, nil
}
