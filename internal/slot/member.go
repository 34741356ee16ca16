package slot

import (
	"strconv"

	"github.com/calvinalkan/kvserver/internal/codec"
)

// IndexKey returns the meta-key holding the advisory set of
// member keys for a slot.
func IndexKey(slotID uint32) []byte {
	return []byte(IndexKeyPrefix + strconv.FormatUint(uint64(slotID), 10))
}

// Member encodes a slot-set member as `<type-char><user-key>`.
func Member(t codec.ValueType, userKey []byte) []byte {
	out := make([]byte, 1+len(userKey))
	out[0] = t.Byte()
	copy(out[1:], userKey)

	return out
}

// SplitMember decodes a slot-set member back into its type and user key.
func SplitMember(member []byte) (codec.ValueType, []byte) {
	if len(member) == 0 {
		return 0, nil
	}

	switch member[0] {
	case 'k':
		return codec.TypeString, member[1:]
	case 'h':
		return codec.TypeHash, member[1:]
	case 'l':
		return codec.TypeList, member[1:]
	case 's':
		return codec.TypeSet, member[1:]
	case 'z':
		return codec.TypeZSet, member[1:]
	default:
		return 0, member[1:]
	}
}
