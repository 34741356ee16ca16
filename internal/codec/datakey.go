package codec

import (
	"encoding/binary"
	"fmt"
)

// EncodeDataKey lays out a composite sub-item key:
// [user-key-length:varint][user-key][version:4][sub-key].
func EncodeDataKey(userKey []byte, version uint32, subKey []byte) []byte {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(userKey)))

	out := make([]byte, n+len(userKey)+4+len(subKey))
	off := copy(out, lenBuf[:n])
	off += copy(out[off:], userKey)
	binary.BigEndian.PutUint32(out[off:], version)
	off += 4
	copy(out[off:], subKey)

	return out
}

// DataKey is the parsed form of a key produced by EncodeDataKey.
type DataKey struct {
	UserKey []byte
	Version uint32
	SubKey  []byte
}

// ParseDataKey decodes a key produced by EncodeDataKey.
func ParseDataKey(b []byte) (DataKey, error) {
	keyLen, n := binary.Uvarint(b)
	if n <= 0 {
		return DataKey{}, fmt.Errorf("%w: varint user-key length", ErrTruncated)
	}

	rest := b[n:]
	if uint64(len(rest)) < keyLen+4 {
		return DataKey{}, ErrTruncated
	}

	userKey := rest[:keyLen]
	version := binary.BigEndian.Uint32(rest[keyLen : keyLen+4])
	subKey := rest[keyLen+4:]

	return DataKey{UserKey: userKey, Version: version, SubKey: subKey}, nil
}

// DataKeyUserPrefix returns the portion of a data key identifying the user
// key, ignoring version and sub-key - used by the data filter to detect when
// consecutive compaction input keys share a user-key prefix.
func DataKeyUserPrefix(b []byte) ([]byte, error) {
	keyLen, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("%w: varint user-key length", ErrTruncated)
	}

	if uint64(len(b)-n) < keyLen {
		return nil, ErrTruncated
	}

	return b[:n+int(keyLen)], nil
}
