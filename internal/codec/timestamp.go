package codec

import "encoding/binary"

// unitBit marks an 8-byte timestamp field as milliseconds (set) versus the
// legacy seconds encoding (clear). The read path converts legacy seconds
// to milliseconds; stored records are never rewritten implicitly.
const unitBit = uint64(1) << 63

// encodeTimeMS packs a millisecond timestamp with the unit bit set. New
// records are always written this way; legacy-seconds records are never
// rewritten implicitly by a read.
func encodeTimeMS(ms uint64) uint64 {
	return (ms & ^unitBit) | unitBit
}

// decodeTime unpacks an 8-byte timestamp field, converting legacy seconds to
// milliseconds on read.
func decodeTime(raw uint64) (ms uint64, wasLegacySeconds bool) {
	if raw&unitBit != 0 {
		return raw &^ unitBit, false
	}

	return raw * 1000, true
}

func putTime(b []byte, ms uint64) {
	binary.BigEndian.PutUint64(b, encodeTimeMS(ms))
}

func getTime(b []byte) (ms uint64, wasLegacySeconds bool) {
	return decodeTime(binary.BigEndian.Uint64(b))
}
