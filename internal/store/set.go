package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
)

// setMemberMarker is the placeholder data-CF value for a set member; sets
// carry no per-member payload beyond membership.
var setMemberMarker = []byte{1}

// SAdd adds members to key's set, creating the set if absent. It reports
// how many members were newly added.
func (s *Store) SAdd(key []byte, members ...[]byte) (added int, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil {
		return 0, err
	}

	if !ok {
		version, err := s.nextVersion(key)
		if err != nil {
			return 0, err
		}

		meta = codec.CompositeMeta{Type: codec.TypeSet, Version: version}
	}

	batch := s.eng.NewBatch()
	seen := make(map[string]bool, len(members))

	for _, member := range members {
		if seen[string(member)] {
			continue
		}

		seen[string(member)] = true

		dataKey := codec.EncodeDataKey(key, meta.Version, member)

		_, existed, err := s.rawGet(engine.CFData, dataKey)
		if err != nil {
			return added, err
		}

		if existed {
			continue
		}

		batch.Put(engine.CFData, dataKey, setMemberMarker)

		added++
		meta.Count++
	}

	if added == 0 {
		return 0, nil
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return 0, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return 0, err
	}

	if err := s.indexAdd(codec.TypeSet, key); err != nil {
		return added, err
	}

	return added, nil
}

// SRem removes members from key's set, reporting how many existed. When the
// set becomes empty this is equivalent to a logical delete of key.
func (s *Store) SRem(key []byte, members ...[]byte) (removed int, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return 0, err
	}

	batch := s.eng.NewBatch()

	for _, member := range members {
		dataKey := codec.EncodeDataKey(key, meta.Version, member)

		_, existed, err := s.rawGet(engine.CFData, dataKey)
		if err != nil {
			return removed, err
		}

		if !existed {
			continue
		}

		batch.Delete(engine.CFData, dataKey)

		removed++
		meta.Count--
	}

	if removed == 0 {
		return 0, nil
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return 0, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return 0, err
	}

	if meta.Count == 0 {
		if err := s.indexRemove(codec.TypeSet, key); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

// SIsMember reports whether member is present in key's set.
func (s *Store) SIsMember(key, member []byte) (bool, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return false, err
	}

	dataKey := codec.EncodeDataKey(key, meta.Version, member)

	_, existed, err := s.rawGet(engine.CFData, dataKey)

	return existed, err
}

// SCard returns the number of members in key's set.
func (s *Store) SCard(key []byte) (int, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return 0, err
	}

	return int(meta.Count), nil
}

// SMembers enumerates every member of key's set, in data-CF key order.
func (s *Store) SMembers(key []byte) ([][]byte, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return nil, err
	}

	prefix := dataPrefix(key, meta.Version)

	it := s.eng.NewIterator(engine.CFData)
	defer it.Close()

	var out [][]byte

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		parsed, err := codec.ParseDataKey(it.Key())
		if err != nil {
			return nil, err
		}

		member := make([]byte, len(parsed.SubKey))
		copy(member, parsed.SubKey)

		out = append(out, member)
	}

	return out, nil
}

// SPop removes and returns up to n arbitrary members of key's set. When
// n <= 0 it reports the current members without removing any, matching
// the migrator's peek-remaining use (see internal/migrate.SlotPopper).
func (s *Store) SPop(key []byte, n int) ([][]byte, error) {
	if n <= 0 {
		return s.SMembers(key)
	}

	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return nil, err
	}

	prefix := dataPrefix(key, meta.Version)

	it := s.eng.NewIterator(engine.CFData)

	var popped [][]byte

	for it.Seek(prefix); it.ValidForPrefix(prefix) && len(popped) < n; it.Next() {
		parsed, err := codec.ParseDataKey(it.Key())
		if err != nil {
			it.Close()
			return nil, err
		}

		member := make([]byte, len(parsed.SubKey))
		copy(member, parsed.SubKey)

		popped = append(popped, member)
	}

	it.Close()

	if len(popped) == 0 {
		return nil, nil
	}

	batch := s.eng.NewBatch()

	for _, member := range popped {
		batch.Delete(engine.CFData, codec.EncodeDataKey(key, meta.Version, member))
	}

	meta.Count -= uint64(len(popped))

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return nil, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return nil, err
	}

	if meta.Count == 0 {
		if err := s.indexRemove(codec.TypeSet, key); err != nil {
			return popped, err
		}
	}

	return popped, nil
}

// setAddLocked adds member to the set at key without acquiring key's lock
// or touching the slot index, for use by internal bookkeeping sets (the
// slot-migration member set itself) that must not recurse into indexing.
func (s *Store) setAddLocked(key, member []byte) (added bool, err error) {
	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil {
		return false, err
	}

	if !ok {
		version, err := s.nextVersion(key)
		if err != nil {
			return false, err
		}

		meta = codec.CompositeMeta{Type: codec.TypeSet, Version: version}
	}

	dataKey := codec.EncodeDataKey(key, meta.Version, member)

	_, existed, err := s.rawGet(engine.CFData, dataKey)
	if err != nil {
		return false, err
	}

	if existed {
		return false, nil
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFData, dataKey, setMemberMarker)

	meta.Count++

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return false, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	return true, s.eng.Write(batch)
}

// setRemLocked is setAddLocked's removal counterpart.
func (s *Store) setRemLocked(key, member []byte) (removed bool, err error) {
	meta, ok, err := s.loadComposite(key, codec.TypeSet)
	if err != nil || !ok {
		return false, err
	}

	dataKey := codec.EncodeDataKey(key, meta.Version, member)

	_, existed, err := s.rawGet(engine.CFData, dataKey)
	if err != nil || !existed {
		return false, err
	}

	batch := s.eng.NewBatch()
	batch.Delete(engine.CFData, dataKey)

	meta.Count--

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return false, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	return true, s.eng.Write(batch)
}
