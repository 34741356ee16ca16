// Package binlog implements the append-only per-database replication log:
// physical (filenum, offset) addressing, logical (term, index) addressing
// carried in each item's header, size-triggered segment rollover, and
// interval-triggered fsync.
//
// The on-disk block framing follows the LevelDB log format: fixed-size
// blocks, a short checksum+length+type header per physical record, and a
// record split across block boundaries using first/middle/last markers.
package binlog

import "hash/crc32"

// blockSize is the physical block a binlog segment is framed into.
const blockSize = 64 * 1024

// headerSize is the per-physical-record header: 4-byte CRC32, 2-byte
// length, 1-byte type.
const headerSize = 4 + 2 + 1

type recordType byte

const (
	recordZero   recordType = 0 // padding at the tail of a block too small for a header
	recordFull   recordType = 1
	recordFirst  recordType = 2
	recordMiddle recordType = 3
	recordLast   recordType = 4
)

func checksum(recType recordType, payload []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write([]byte{byte(recType)})
	crc.Write(payload)

	return crc.Sum32()
}
