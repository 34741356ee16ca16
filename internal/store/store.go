// Package store ties internal/codec's encodings to internal/engine's
// column families behind internal/lock's per-key range lock, implementing
// the five logical value shapes plus the delete-by-version-bump
// discipline.
//
// Every mutator follows the same shape: acquire the per-key lock, read
// current state, mutate, write back atomically, release.
package store

import (
	"time"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/lock"
)

// Clock returns the current time in milliseconds; overridable in tests.
type Clock func() uint64

func defaultClock() uint64 { return uint64(time.Now().UnixMilli()) }

// Engine is the minimal read/write/iterate surface Store needs from
// *engine.Engine, narrowed the same way internal/engine/filter narrows its
// own dependency to [filter.MetaReader]: *engine.Engine satisfies it, and
// tests can supply a fake instead of a real grocksdb-backed engine.
type Engine interface {
	Get(cf engine.CF, key []byte) ([]byte, error)
	NewBatch() engine.Batch
	Write(b engine.Batch) error
	NewIterator(cf engine.CF) engine.Iterator
}

var _ Engine = (*engine.Engine)(nil)

// Store executes single-key storage operations against one database's
// engine, serializing concurrent writers on the same user key via a
// [lock.Keyspace].
type Store struct {
	eng         Engine
	locks       *lock.Keyspace
	now         Clock
	slotEnabled SlotMigrateEnabled
}

// New builds a Store over eng, using locks for per-key serialization.
func New(eng Engine, locks *lock.Keyspace, now Clock) *Store {
	if now == nil {
		now = defaultClock
	}

	return &Store{eng: eng, locks: locks, now: now}
}

func (s *Store) nowMS() uint64 {
	if s.now == nil {
		return defaultClock()
	}

	return s.now()
}

// TypeOf reports the logical type of key, or ok=false if it does not exist
// or has expired.
func (s *Store) TypeOf(key []byte) (t codec.ValueType, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	return s.typeOfLocked(key)
}

func (s *Store) typeOfLocked(key []byte) (codec.ValueType, bool, error) {
	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return 0, false, nil
		}

		return 0, false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		return codec.TypeString, !stringExpired(raw, s.nowMS()), nil
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return 0, false, err
	}

	if meta.Expired(s.nowMS()) || meta.Count == 0 {
		return 0, false, nil
	}

	return meta.Type, true, nil
}

func stringExpired(raw []byte, nowMS uint64) bool {
	sv, err := codec.ParseStringValue(raw)
	if err != nil {
		return false
	}

	return sv.ETimeMS != 0 && sv.ETimeMS < nowMS
}

// Exists reports whether key currently holds a live value of any type.
func (s *Store) Exists(key []byte) (bool, error) {
	_, ok, err := s.TypeOf(key)
	return ok, err
}

// Del removes key's current value regardless of type. For composites this
// is a version bump; the underlying data KVs become
// ghosts reclaimed by the data filter during compaction. It reports whether
// a live value existed.
func (s *Store) Del(key []byte) (existed bool, err error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return false, nil
		}

		return false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		if stringExpired(raw, s.nowMS()) {
			return false, nil
		}

		batch := s.eng.NewBatch()
		batch.Delete(engine.CFMeta, key)

		if err := s.eng.Write(batch); err != nil {
			return false, err
		}

		if err := s.indexRemove(codec.TypeString, key); err != nil {
			return true, err
		}

		return true, nil
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return false, err
	}

	if meta.Expired(s.nowMS()) || meta.Count == 0 {
		return false, nil
	}

	typ := meta.Type

	meta.Version = s.bumpVersion(meta.Version)
	meta.Count = 0

	newRaw, err := codec.EncodeMeta(meta)
	if err != nil {
		return false, err
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFMeta, key, newRaw)

	if err := s.eng.Write(batch); err != nil {
		return false, err
	}

	if err := s.indexRemove(typ, key); err != nil {
		return true, err
	}

	return true, nil
}

// Expire sets key's absolute expiration. It returns
// false if the key does not currently exist.
func (s *Store) Expire(key []byte, etimeMS uint64) (bool, error) {
	release := s.locks.Lock([][]byte{key})
	defer release()

	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return false, nil
		}

		return false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		if stringExpired(raw, s.nowMS()) {
			return false, nil
		}

		if err := codec.SetETime(raw, etimeMS); err != nil {
			return false, err
		}

		batch := s.eng.NewBatch()
		batch.Put(engine.CFMeta, key, raw)

		return true, s.eng.Write(batch)
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return false, err
	}

	if meta.Expired(s.nowMS()) || meta.Count == 0 {
		return false, nil
	}

	if err := codec.SetTTL(raw, etimeMS); err != nil {
		return false, err
	}

	batch := s.eng.NewBatch()
	batch.Put(engine.CFMeta, key, raw)

	return true, s.eng.Write(batch)
}

// TTL returns the absolute expiration epoch in ms for key (0 means no
// expiration), and whether the key exists.
func (s *Store) TTL(key []byte) (etimeMS uint64, ok bool, err error) {
	release := s.locks.RLock([][]byte{key})
	defer release()

	raw, err := s.eng.Get(engine.CFMeta, key)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return 0, false, nil
		}

		return 0, false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		sv, err := codec.ParseStringValue(raw)
		if err != nil {
			return 0, false, err
		}

		if sv.ETimeMS != 0 && sv.ETimeMS < s.nowMS() {
			return 0, false, nil
		}

		return sv.ETimeMS, true, nil
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return 0, false, err
	}

	if meta.Expired(s.nowMS()) || meta.Count == 0 {
		return 0, false, nil
	}

	return meta.TTLMS, true, nil
}
