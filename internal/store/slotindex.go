package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/slot"
)

// SlotMigrateEnabled reports whether slot-index maintenance is currently
// active.
type SlotMigrateEnabled func() bool

// EnableSlotIndex wires s to maintain the advisory slot-membership set on
// every write/delete of a user key, gated by enabled. Without a call to
// EnableSlotIndex the hook is always a no-op.
func (s *Store) EnableSlotIndex(enabled SlotMigrateEnabled) {
	s.slotEnabled = enabled
}

func (s *Store) slotIndexOn() bool {
	return s.slotEnabled != nil && s.slotEnabled()
}

// indexAdd adds `<type><key>` to key's slot set. It is a no-op unless slot-migrate mode is
// on, and it locks the index key independently of whatever lock the caller
// holds on key itself - the index key is always distinct from key, so this
// cannot deadlock against the caller's own lock.
func (s *Store) indexAdd(t codec.ValueType, key []byte) error {
	if !s.slotIndexOn() {
		return nil
	}

	idxKey := slot.IndexKey(slot.Of(key))
	member := slot.Member(t, key)

	release := s.locks.Lock([][]byte{idxKey})
	defer release()

	_, err := s.setAddLocked(idxKey, member)

	return err
}

// indexRemove removes `<type><key>` from key's slot set.
func (s *Store) indexRemove(t codec.ValueType, key []byte) error {
	if !s.slotIndexOn() {
		return nil
	}

	idxKey := slot.IndexKey(slot.Of(key))
	member := slot.Member(t, key)

	release := s.locks.Lock([][]byte{idxKey})
	defer release()

	_, err := s.setRemLocked(idxKey, member)

	return err
}

// RemoveSlotMember implements internal/migrate.KeySource: unconditional
// removal used by MgrtTagOne step 2, independent of whether slot-migrate
// mode happens to still be enabled by the time migration runs.
func (s *Store) RemoveSlotMember(t codec.ValueType, key []byte) error {
	idxKey := slot.IndexKey(slot.Of(key))
	member := slot.Member(t, key)

	release := s.locks.Lock([][]byte{idxKey})
	defer release()

	_, err := s.setRemLocked(idxKey, member)

	return err
}

// RestoreSlotMember implements internal/migrate.KeySource: re-adds a member
// removed by RemoveSlotMember when a later migration step fails.
func (s *Store) RestoreSlotMember(t codec.ValueType, key []byte) error {
	idxKey := slot.IndexKey(slot.Of(key))
	member := slot.Member(t, key)

	release := s.locks.Lock([][]byte{idxKey})
	defer release()

	_, err := s.setAddLocked(idxKey, member)

	return err
}

// PopMembers implements internal/migrate.SlotPopper: pops up to n members
// from slotID's set, or (when n <= 0) just reports the remaining members
// without removing them.
func (s *Store) PopMembers(slotID uint32, n int) ([][]byte, error) {
	idxKey := slot.IndexKey(slotID)
	return s.SPop(idxKey, n)
}

// SlotCardinality reports the number of members currently indexed for
// slotID.
func (s *Store) SlotCardinality(slotID uint32) (int, error) {
	return s.SCard(slot.IndexKey(slotID))
}

// SlotMembers enumerates slotID's indexed members without removing them.
func (s *Store) SlotMembers(slotID uint32) ([][]byte, error) {
	return s.SMembers(slot.IndexKey(slotID))
}

// SlotDelete deletes slotID's entire index set,
// reporting whether it existed.
func (s *Store) SlotDelete(slotID uint32) (bool, error) {
	return s.Del(slot.IndexKey(slotID))
}
