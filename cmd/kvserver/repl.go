package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/kvserver/internal/kvcontext"
	"github.com/calvinalkan/kvserver/internal/migrate"
)

// dispatchReplCommand runs one operator console line against ctx's default
// database. It understands only the admin-surface commands (SLOTSINFO,
// SLOTSHASHKEY, SLOTSDEL, SLOTSMGRTTAGONE, SLOTSMGRTTAGSLOT,
// SLOTSMGRTTAGSLOT-ASYNC, SLOTSMGRT-ASYNC-STATUS, SLOTSMGRT-ASYNC-CANCEL)
// - it is not the client protocol.
func dispatchReplCommand(ctx *kvcontext.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	const db = "db0"

	switch strings.ToUpper(fields[0]) {
	case "SLOTSINFO":
		info, err := ctx.SlotsInfo(db)
		if err != nil {
			return err
		}

		for _, s := range info {
			fmt.Printf("%d %d\n", s.Slot, s.Cardinality)
		}

		return nil

	case "SLOTSHASHKEY":
		keys := make([][]byte, 0, len(fields)-1)
		for _, f := range fields[1:] {
			keys = append(keys, []byte(f))
		}

		for _, s := range kvcontext.SlotsHashKey(keys) {
			fmt.Println(s)
		}

		return nil

	case "SLOTSDEL":
		slots := make([]uint32, 0, len(fields)-1)

		for _, f := range fields[1:] {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return fmt.Errorf("bad slot %q: %w", f, err)
			}

			slots = append(slots, uint32(n))
		}

		deleted, err := ctx.SlotsDel(db, slots)
		if err != nil {
			return err
		}

		fmt.Println(deleted)

		return nil

	case "SLOTSMGRTTAGONE":
		if len(fields) != 5 {
			return fmt.Errorf("usage: SLOTSMGRTTAGONE host port timeout_ms key")
		}

		opts, err := parseMigrateOptions(fields[1], fields[2], fields[3])
		if err != nil {
			return err
		}

		moved, err := ctx.MgrtTagOne(db, opts, []byte(fields[4]))
		if err != nil {
			return err
		}

		fmt.Println(moved)

		return nil

	case "SLOTSMGRTTAGSLOT":
		if len(fields) != 5 {
			return fmt.Errorf("usage: SLOTSMGRTTAGSLOT host port timeout_ms slot")
		}

		opts, err := parseMigrateOptions(fields[1], fields[2], fields[3])
		if err != nil {
			return err
		}

		slotID, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return fmt.Errorf("bad slot %q: %w", fields[4], err)
		}

		moved, remaining, err := ctx.MgrtTagSlot(db, opts, uint32(slotID))
		if err != nil {
			return err
		}

		fmt.Println(moved, remaining)

		return nil

	case "SLOTSMGRTTAGSLOT-ASYNC":
		if len(fields) != 8 {
			return fmt.Errorf("usage: SLOTSMGRTTAGSLOT-ASYNC host port timeout_ms max_bulks max_bytes slot keys")
		}

		opts, err := parseMigrateOptions(fields[1], fields[2], fields[3])
		if err != nil {
			return err
		}

		slotID, err := strconv.ParseUint(fields[6], 10, 32)
		if err != nil {
			return fmt.Errorf("bad slot %q: %w", fields[6], err)
		}

		keys, err := strconv.Atoi(fields[7])
		if err != nil {
			return fmt.Errorf("bad keys %q: %w", fields[7], err)
		}

		moved, remaining, err := ctx.MgrtTagSlotAsync(db, opts, uint32(slotID), keys)
		if err != nil {
			return err
		}

		fmt.Println(moved, remaining)

		return nil

	case "SLOTSMGRT-ASYNC-STATUS":
		if ctx.Mover == nil {
			fmt.Println("no migration in flight")
			return nil
		}

		st := ctx.Mover.AsyncStatus()
		fmt.Printf("dest: %s\nport: %d\nslot: %d\nmigrating: %t\nmoved: %d\nremaining: %d\n",
			st.Dest, st.Port, st.Slot, st.Migrating, st.Moved, st.Remaining)

		return nil

	case "SLOTSMGRT-ASYNC-CANCEL":
		if ctx.Mover != nil {
			ctx.Mover.Cancel()
		}

		return nil

	default:
		return fmt.Errorf("unrecognized admin command %q", fields[0])
	}
}

func parseMigrateOptions(host, portStr, timeoutStr string) (migrate.Options, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return migrate.Options{}, fmt.Errorf("bad port %q: %w", portStr, err)
	}

	timeoutMS, err := strconv.Atoi(timeoutStr)
	if err != nil {
		return migrate.Options{}, fmt.Errorf("bad timeout %q: %w", timeoutStr, err)
	}

	return migrate.Options{
		Host:    host,
		Port:    port,
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	}, nil
}
