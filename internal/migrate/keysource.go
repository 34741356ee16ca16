package migrate

import "github.com/calvinalkan/kvserver/internal/codec"

// KeySource is the read/write surface migration needs from the storage
// core: type lookup, serialization into peer-side commands, slot-set
// membership maintenance, and the final local delete. internal/kvcontext
// wires the real engine-backed implementation; tests use a fake.
type KeySource interface {
	// TypeOf returns the key's logical type, or ok=false if it does not exist.
	TypeOf(key []byte) (t codec.ValueType, ok bool, err error)
	// RemoveSlotMember removes <type><key> from its slot set (idempotent).
	RemoveSlotMember(t codec.ValueType, key []byte) error
	// RestoreSlotMember re-adds <type><key>, used to undo step 2 when a
	// later step fails.
	RestoreSlotMember(t codec.ValueType, key []byte) error
	// SerializeCommands builds the peer-side commands that recreate key's
	// current content. The caller groups them into pipelined batches of at
	// most maxBytes; a single command larger than that is sent whole.
	SerializeCommands(t codec.ValueType, key []byte, maxBytes int) ([][]string, error)
	// TTLCommand returns the trailing PEXPIREAT command for key, or nil if
	// the key carries no TTL.
	TTLCommand(key []byte) ([]string, error)
	// DeleteLocal removes key entirely from local storage.
	DeleteLocal(t codec.ValueType, key []byte) error
}

// SlotPopper is the subset of slot-set access the async mover needs:
// popping candidate members without the caller knowing the storage layout.
type SlotPopper interface {
	// PopMembers removes and returns up to n members of slot's set. When
	// n <= 0 it returns every remaining member without removing any.
	PopMembers(slot uint32, n int) (members [][]byte, err error)
}

// MaxKeySendSize bounds a single pipelined batch of peer commands.
const MaxKeySendSize = 10 * 1024
