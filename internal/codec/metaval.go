package codec

import (
	"encoding/binary"
	"fmt"
)

// CompositeMeta is the meta-value shared by hash, list, set, and zset keys. Head/Tail are only meaningful for TypeList.
type CompositeMeta struct {
	Type  ValueType
	Count uint64
	// Version stamps every data KV written under this meta. It is a unix
	// seconds value (bumped past the clock on delete/recreate) so the
	// compaction filters can age it against the current time.
	Version uint32
	TTLMS   uint64 // 0 == no expiration
	Head    uint64 // list only
	Tail    uint64 // list only
}

// Fixed field widths shared by every composite meta encoding.
const (
	metaCountOff   = 1
	metaVersionOff = metaCountOff + 8
	metaTTLOff     = metaVersionOff + 4
	metaBaseSize   = metaTTLOff + 8 // type + count + version + ttl

	metaListHeadOff = metaBaseSize
	metaListTailOff = metaListHeadOff + 8
	metaListSize    = metaListTailOff + 8
)

// EncodeMeta serializes a composite meta value. Hash/set/zset encode
// metaBaseSize bytes; list additionally carries head/tail.
func EncodeMeta(m CompositeMeta) ([]byte, error) {
	if !m.Type.Valid() || m.Type == TypeString {
		return nil, fmt.Errorf("%w: %d", ErrBadType, m.Type)
	}

	size := metaBaseSize
	if m.Type == TypeList {
		size = metaListSize
	}

	out := make([]byte, size)
	out[0] = byte(m.Type)
	binary.BigEndian.PutUint64(out[metaCountOff:], m.Count)
	binary.BigEndian.PutUint32(out[metaVersionOff:], m.Version)
	binary.BigEndian.PutUint64(out[metaTTLOff:], m.TTLMS)

	if m.Type == TypeList {
		binary.BigEndian.PutUint64(out[metaListHeadOff:], m.Head)
		binary.BigEndian.PutUint64(out[metaListTailOff:], m.Tail)
	}

	return out, nil
}

// ParseMeta decodes bytes produced by EncodeMeta.
func ParseMeta(b []byte) (CompositeMeta, error) {
	if len(b) < metaBaseSize {
		return CompositeMeta{}, ErrTruncated
	}

	typ := ValueType(b[0])
	if !typ.Valid() || typ == TypeString {
		return CompositeMeta{}, fmt.Errorf("%w: %d", ErrBadType, b[0])
	}

	m := CompositeMeta{
		Type:    typ,
		Count:   binary.BigEndian.Uint64(b[metaCountOff:]),
		Version: binary.BigEndian.Uint32(b[metaVersionOff:]),
		TTLMS:   binary.BigEndian.Uint64(b[metaTTLOff:]),
	}

	if typ == TypeList {
		if len(b) < metaListSize {
			return CompositeMeta{}, ErrTruncated
		}

		m.Head = binary.BigEndian.Uint64(b[metaListHeadOff:])
		m.Tail = binary.BigEndian.Uint64(b[metaListTailOff:])
	}

	return m, nil
}

// Expired reports whether the meta's ttl has passed nowMS. A ttl of 0 never expires.
func (m CompositeMeta) Expired(nowMS uint64) bool {
	return m.TTLMS != 0 && m.TTLMS < nowMS
}

// Reclaimable implements the meta filter's drop predicate: an
// expired-and-aged-out meta, or an empty composite whose version has aged
// out. A version at or past the current second protects the meta
// unconditionally, so a just-deleted key's ghosts can still reach the data
// filter before their meta disappears.
func (m CompositeMeta) Reclaimable(nowMS uint64) bool {
	aged := uint64(m.Version) < nowMS/1000
	expiredAndAged := m.TTLMS != 0 && m.TTLMS < nowMS && aged
	emptyAndAged := m.Count == 0 && aged

	return expiredAndAged || emptyAndAged
}

// SetVersion rewrites the version field of an already-encoded meta value in
// place, without reallocating.
func SetVersion(buf []byte, version uint32) error {
	if len(buf) < metaBaseSize {
		return ErrTruncated
	}

	binary.BigEndian.PutUint32(buf[metaVersionOff:], version)

	return nil
}

// SetTTL rewrites the ttl field of an already-encoded meta value in place.
func SetTTL(buf []byte, ttlMS uint64) error {
	if len(buf) < metaBaseSize {
		return ErrTruncated
	}

	binary.BigEndian.PutUint64(buf[metaTTLOff:], ttlMS)

	return nil
}

// SetCount rewrites the count field of an already-encoded meta value in place.
func SetCount(buf []byte, count uint64) error {
	if len(buf) < metaBaseSize {
		return ErrTruncated
	}

	binary.BigEndian.PutUint64(buf[metaCountOff:], count)

	return nil
}
