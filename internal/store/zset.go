package store

import (
	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
)

// zset data keys come in two flavors under the same user key:
//   - 'm' + member               -> 8-byte score, for ZSCORE lookups
//   - 's' + score-bytes + member -> member bytes, kept only so the data CF's
//     byte order is also score order, for ZRANGE
const (
	zsetMemberTag = 'm'
	zsetScoreTag  = 's'
)

func zsetMemberSub(member []byte) []byte {
	out := make([]byte, 1+len(member))
	out[0] = zsetMemberTag
	copy(out[1:], member)

	return out
}

func zsetScoreSub(score float64, member []byte) []byte {
	scoreBytes := codec.EncodeScore(score)

	out := make([]byte, 1+len(scoreBytes)+len(member))
	out[0] = zsetScoreTag
	copy(out[1:], scoreBytes)
	copy(out[1+len(scoreBytes):], member)

	return out
}

// ZMember is one member/score pair returned by ZRange.
type ZMember struct {
	Member []byte
	Score  float64
}

// ZAdd sets member's score in key's sorted set, creating the zset if
// absent. It reports whether member was newly added (as opposed to an
// existing member whose score was updated).
func (s *Store) ZAdd(key []byte, member []byte, score float64) (added bool, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeZSet)
	if err != nil {
		return false, err
	}

	if !ok {
		version, err := s.nextVersion(key)
		if err != nil {
			return false, err
		}

		meta = codec.CompositeMeta{Type: codec.TypeZSet, Version: version}
	}

	memberKey := codec.EncodeDataKey(key, meta.Version, zsetMemberSub(member))

	oldScoreRaw, existed, err := s.rawGet(engine.CFData, memberKey)
	if err != nil {
		return false, err
	}

	batch := s.eng.NewBatch()

	if existed {
		oldScore, err := codec.DecodeScore(oldScoreRaw)
		if err != nil {
			return false, err
		}

		batch.Delete(engine.CFData, codec.EncodeDataKey(key, meta.Version, zsetScoreSub(oldScore, member)))
	} else {
		meta.Count++
	}

	batch.Put(engine.CFData, memberKey, codec.EncodeScore(score))
	batch.Put(engine.CFData, codec.EncodeDataKey(key, meta.Version, zsetScoreSub(score, member)), member)

	metaRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return false, err
	}

	batch.Put(engine.CFMeta, key, metaRaw)

	if err := s.eng.Write(batch); err != nil {
		return false, err
	}

	if err := s.indexAdd(codec.TypeZSet, key); err != nil {
		return !existed, err
	}

	return !existed, nil
}

// ZRem removes members from key's sorted set, reporting how many existed.
func (s *Store) ZRem(key []byte, members ...[]byte) (removed int, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeZSet)
	if err != nil || !ok {
		return 0, err
	}

	batch := s.eng.NewBatch()

	for _, member := range members {
		memberKey := codec.EncodeDataKey(key, meta.Version, zsetMemberSub(member))

		scoreRaw, existed, err := s.rawGet(engine.CFData, memberKey)
		if err != nil {
			return removed, err
		}

		if !existed {
			continue
		}

		score, err := codec.DecodeScore(scoreRaw)
		if err != nil {
			return removed, err
		}

		batch.Delete(engine.CFData, memberKey)
		batch.Delete(engine.CFData, codec.EncodeDataKey(key, meta.Version, zsetScoreSub(score, member)))

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
		if err := s.indexRemove(codec.TypeZSet, key); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

// ZScore returns member's score in key's sorted set, or ok=false if either
// does not exist.
func (s *Store) ZScore(key, member []byte) (score float64, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeZSet)
	if err != nil || !ok {
		return 0, false, err
	}

	raw, existed, err := s.rawGet(engine.CFData, codec.EncodeDataKey(key, meta.Version, zsetMemberSub(member)))
	if err != nil || !existed {
		return 0, false, err
	}

	score, err = codec.DecodeScore(raw)

	return score, err == nil, err
}

// ZCard returns the number of members in key's sorted set.
func (s *Store) ZCard(key []byte) (int, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeZSet)
	if err != nil || !ok {
		return 0, err
	}

	return int(meta.Count), nil
}

// ZRange returns members in ascending score order, by zero-based rank
// (Redis ZRANGE semantics: negative indices count from the highest rank).
func (s *Store) ZRange(key []byte, start, stop int) ([]ZMember, error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	meta, ok, err := s.loadComposite(key, codec.TypeZSet)
	if err != nil || !ok {
		return nil, err
	}

	length := int(meta.Count)
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

	prefix := codec.EncodeDataKey(key, meta.Version, []byte{zsetScoreTag})

	it := s.eng.NewIterator(engine.CFData)
	defer it.Close()

	var (
		out  []ZMember
		rank int
	)

	for it.Seek(prefix); it.ValidForPrefix(prefix) && rank <= stop; it.Next() {
		if rank < start {
			rank++
			continue
		}

		parsed, err := codec.ParseDataKey(it.Key())
		if err != nil {
			return nil, err
		}

		score, err := codec.DecodeScore(parsed.SubKey[1:9])
		if err != nil {
			return nil, err
		}

		member := make([]byte, len(it.Value()))
		copy(member, it.Value())

		out = append(out, ZMember{Member: member, Score: score})
		rank++
	}

	return out, nil
}
