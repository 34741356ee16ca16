// Package filter implements the two compaction-time filters: MetaFilter
// reclaims aged, empty-or-expired meta records, and DataFilter drops
// data-CF entries whose owning meta record is gone or has moved on to a
// newer version. Both are grocksdb.CompactionFilter implementations.
// DataFilter caches the last meta lookup across consecutive input keys
// sharing a user-key prefix.
package filter

import (
	"time"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// MetaReader is the minimal read path a filter needs. *engine.Engine
// satisfies it; tests use a fake.
type MetaReader interface {
	Get(cf engine.CF, key []byte) ([]byte, error)
}

// Clock returns the current time in milliseconds, overridable in tests.
type Clock func() int64

// DefaultClock is time.Now truncated to milliseconds.
func DefaultClock() int64 { return time.Now().UnixMilli() }

// MetaFilter drops meta records that are both aged (version < now) and
// either expired (ttl set and elapsed) or empty (count == 0). The drop
// predicate itself is codec.CompositeMeta.Reclaimable.
type MetaFilter struct {
	Now Clock
}

func (f MetaFilter) clock() int64 {
	if f.Now != nil {
		return f.Now()
	}

	return DefaultClock()
}

// Filter implements grocksdb.CompactionFilter. It never rejects a key for
// transient decode failure; a record it cannot parse is kept (treated as
// live) rather than risking silent data loss.
func (f MetaFilter) Filter(_ int, _ []byte, val []byte) (remove bool, newVal []byte) {
	meta, err := codec.ParseMeta(val)
	if err != nil {
		return false, nil
	}

	now := uint64(f.clock())
	if meta.Reclaimable(now) {
		return true, nil
	}

	return false, nil
}

func (f MetaFilter) Name() string { return "kvserver.meta-filter.v1" }

// DataFilter drops data-CF records whose owning meta key either does not
// exist, or exists with a version newer than the data key's embedded
// version.
//
// It caches the result of the last meta lookup keyed by the data key's user
// prefix, since compaction iterates data keys in order and consecutive
// entries overwhelmingly share the same owning meta record.
type DataFilter struct {
	Meta MetaReader
	Now  Clock

	lastPrefix []byte
	lastMeta   codec.CompositeMeta
	lastFound  bool
	lastErr    error
}

const metaCF = engine.CFMeta

func (f *DataFilter) clock() int64 {
	if f.Now != nil {
		return f.Now()
	}

	return DefaultClock()
}

// Filter implements grocksdb.CompactionFilter: drop iff meta missing,
// meta.ttl expired, or meta.version > data_key.version; never drop while
// meta.version <= data_key.version.
func (f *DataFilter) Filter(_ int, key []byte, _ []byte) (remove bool, newVal []byte) {
	dk, err := codec.ParseDataKey(key)
	if err != nil {
		return false, nil
	}

	prefix, err := codec.DataKeyUserPrefix(key)
	if err != nil {
		return false, nil
	}

	if f.lastPrefix == nil || !bytesEqual(prefix, f.lastPrefix) {
		f.lastPrefix = prefix
		f.lastMeta, f.lastFound, f.lastErr = f.lookupMeta(dk.UserKey)
	}

	if f.lastErr != nil {
		// Transient IO error: keep the record rather than risk dropping live data.
		return false, nil
	}

	if !f.lastFound {
		return true, nil
	}

	now := uint64(f.clock())

	return f.lastMeta.Expired(now) || f.lastMeta.Version > dk.Version, nil
}

func (f *DataFilter) lookupMeta(userKey []byte) (codec.CompositeMeta, bool, error) {
	raw, err := f.Meta.Get(metaCF, userKey)
	if err != nil {
		if kverr.Is(err, kverr.KindNotFound) {
			return codec.CompositeMeta{}, false, nil
		}

		return codec.CompositeMeta{}, false, err
	}

	if len(raw) > 0 && codec.ValueType(raw[0]) == codec.TypeString {
		// A string overwrote the composite that produced these data keys;
		// its children are ghosts with no owning meta left.
		return codec.CompositeMeta{}, false, nil
	}

	meta, err := codec.ParseMeta(raw)
	if err != nil {
		return codec.CompositeMeta{}, false, err
	}

	return meta, true, nil
}

func (f *DataFilter) Name() string { return "kvserver.data-filter.v1" }

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
