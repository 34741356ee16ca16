package store

import (
	"encoding/binary"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
)

// listOrigin is the initial head/tail index a fresh list starts at, chosen
// far from either uint64 bound so LPush/RPush can each run for a very long
// time (in opposite directions) before wrapping.
const listOrigin = uint64(1) << 62

func listIndexKey(key []byte, version uint32, idx uint64) []byte {
	sub := make([]byte, 8)
	binary.BigEndian.PutUint64(sub, idx)

	return codec.EncodeDataKey(key, version, sub)
}

// LPush prepends values to key's list (last argument ends up leftmost,
// matching Redis's LPUSH semantics), creating the list if absent. It
// returns the list's length after the push.
func (s *Store) LPush(key []byte, values ...[]byte) (int, error) {
	return s.listPush(key, values, true)
}

// RPush appends values to key's list, creating the list if absent. It
// returns the list's length after the push.
func (s *Store) RPush(key []byte, values ...[]byte) (int, error) {
	return s.listPush(key, values, false)
}

func (s *Store) listPush(key []byte, values [][]byte, left bool) (int, error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeList)
	if err != nil {
		return 0, err
	}

	if !ok {
		version, err := s.nextVersion(key)
		if err != nil {
			return 0, err
		}

		meta = codec.CompositeMeta{Type: codec.TypeList, Version: version, Head: listOrigin, Tail: listOrigin}
	}

	batch := s.eng.NewBatch()

	for _, v := range values {
		if left {
			meta.Head--
			batch.Put(engine.CFData, listIndexKey(key, meta.Version, meta.Head), v)
		} else {
			batch.Put(engine.CFData, listIndexKey(key, meta.Version, meta.Tail), v)
			meta.Tail++
		}

		meta.Count++
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return 0, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return 0, err
	}

	if err := s.indexAdd(codec.TypeList, key); err != nil {
		return int(meta.Count), err
	}

	return int(meta.Count), nil
}

// LPop removes and returns up to n elements from the left of key's list.
func (s *Store) LPop(key []byte, n int) ([][]byte, error) {
	return s.listPop(key, n, true)
}

// RPop removes and returns up to n elements from the right of key's list.
func (s *Store) RPop(key []byte, n int) ([][]byte, error) {
	return s.listPop(key, n, false)
}

func (s *Store) listPop(key []byte, n int, left bool) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeList)
	if err != nil || !ok {
		return nil, err
	}

	batch := s.eng.NewBatch()

	var popped [][]byte

	for len(popped) < n && meta.Head < meta.Tail {
		var idx uint64

		if left {
			idx = meta.Head
		} else {
			idx = meta.Tail - 1
		}

		dataKey := listIndexKey(key, meta.Version, idx)

		val, existed, err := s.rawGet(engine.CFData, dataKey)
		if err != nil {
			return popped, err
		}

		if !existed {
			break
		}

		out := make([]byte, len(val))
		copy(out, val)
		popped = append(popped, out)

		batch.Delete(engine.CFData, dataKey)

		if left {
			meta.Head++
		} else {
			meta.Tail--
		}

		meta.Count--
	}

	if len(popped) == 0 {
		return nil, nil
	}

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return nil, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return nil, err
	}

	if meta.Count == 0 {
		if err := s.indexRemove(codec.TypeList, key); err != nil {
			return popped, err
		}
	}

	return popped, nil
}

// LLen returns the number of elements in key's list.
func (s *Store) LLen(key []byte) (int, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeList)
	if err != nil || !ok {
		return 0, err
	}

	return int(meta.Count), nil
}

// LIndex returns the element at the given zero-based index (negative counts
// from the list's tail), or ok=false if out of range.
func (s *Store) LIndex(key []byte, index int) (value []byte, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeList)
	if err != nil || !ok {
		return nil, false, err
	}

	length := meta.Tail - meta.Head

	idx, inRange := resolveListIndex(index, length)
	if !inRange {
		return nil, false, nil
	}

	dataKey := listIndexKey(key, meta.Version, meta.Head+idx)

	raw, existed, err := s.rawGet(engine.CFData, dataKey)
	if err != nil || !existed {
		return nil, false, err
	}

	out := make([]byte, len(raw))
	copy(out, raw)

	return out, true, nil
}

// LRange returns elements from start to stop inclusive (Redis LRANGE
// semantics: negative indices count from the tail, out-of-range bounds are
// clamped rather than erroring).
func (s *Store) LRange(key []byte, start, stop int) ([][]byte, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeList)
	if err != nil || !ok {
		return nil, err
	}

	length := int(meta.Tail - meta.Head)
	if length == 0 {
		return nil, nil
	}

	start = clampListBound(start, length)
	stop = clampListBound(stop, length)

	if start > stop || start >= length {
		return nil, nil
	}

	if stop >= length {
		stop = length - 1
	}

	it := s.eng.NewIterator(engine.CFData)
	defer it.Close()

	prefix := dataPrefix(key, meta.Version)
	from := listIndexKey(key, meta.Version, meta.Head+uint64(start))

	var out [][]byte

	for it.Seek(from); it.ValidForPrefix(prefix) && len(out) <= stop-start; it.Next() {
		parsed, err := codec.ParseDataKey(it.Key())
		if err != nil {
			return nil, err
		}

		idx := binary.BigEndian.Uint64(parsed.SubKey)
		if idx >= meta.Head+uint64(stop)+1 {
			break
		}

		val := make([]byte, len(it.Value()))
		copy(val, it.Value())

		out = append(out, val)
	}

	return out, nil
}

// clampListBound resolves a possibly-negative Redis-style index to a
// non-negative bound clamped to [0, length].
func clampListBound(idx, length int) int {
	if idx < 0 {
		idx += length

		if idx < 0 {
			idx = 0
		}
	}

	if idx > length {
		idx = length
	}

	return idx
}

// resolveListIndex resolves a single possibly-negative index against
// length, reporting whether it lands in range.
func resolveListIndex(index int, length uint64) (uint64, bool) {
	if index < 0 {
		index += int(length)
	}

	if index < 0 || uint64(index) >= length {
		return 0, false
	}

	return uint64(index), true
}
