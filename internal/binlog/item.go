package binlog

import (
	"encoding/binary"
	"fmt"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// ItemHeader carries an item's forwarding metadata without its payload:
// enough for a replica to order, skip, or acknowledge an item before
// decoding its command bytes.
type ItemHeader struct {
	// ExecTimeUnixSec is when the command that produced this item executed.
	ExecTimeUnixSec int64
	// TermID is the replication term the item was produced under.
	TermID uint64
	// LogicIndex is the monotonically increasing logical offset within TermID.
	LogicIndex uint64
}

const itemHeaderSize = 8 + 8 + 8

func encodeItemHeader(h ItemHeader) []byte {
	buf := make([]byte, itemHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.ExecTimeUnixSec))
	binary.BigEndian.PutUint64(buf[8:16], h.TermID)
	binary.BigEndian.PutUint64(buf[16:24], h.LogicIndex)

	return buf
}

func decodeItemHeader(b []byte) (ItemHeader, error) {
	if len(b) < itemHeaderSize {
		return ItemHeader{}, kverr.New(kverr.KindCorruption, "binlog.decodeItemHeader", fmt.Errorf("short item header: %d bytes", len(b)))
	}

	return ItemHeader{
		ExecTimeUnixSec: int64(binary.BigEndian.Uint64(b[0:8])),
		TermID:          binary.BigEndian.Uint64(b[8:16]),
		LogicIndex:      binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// Item is one logical binlog entry: forwarding metadata plus the encoded
// command content.
type Item struct {
	Header  ItemHeader
	Content []byte
}

// Position is the physical address of an item: the segment file number and
// the byte offset within it.
type Position struct {
	FileNum uint64
	Offset  int64
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.FileNum, p.Offset)
}

// Less reports whether p sorts strictly before o.
func (p Position) Less(o Position) bool {
	if p.FileNum != o.FileNum {
		return p.FileNum < o.FileNum
	}

	return p.Offset < o.Offset
}

func encodeItem(item Item) []byte {
	header := encodeItemHeader(item.Header)

	buf := make([]byte, 4+len(header)+len(item.Content))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(header)))
	copy(buf[4:], header)
	copy(buf[4+len(header):], item.Content)

	return buf
}

func decodeItem(b []byte) (Item, error) {
	if len(b) < 4 {
		return Item{}, kverr.New(kverr.KindCorruption, "binlog.decodeItem", fmt.Errorf("short item: %d bytes", len(b)))
	}

	headerLen := binary.BigEndian.Uint32(b[0:4])
	if uint32(len(b)) < 4+headerLen {
		return Item{}, kverr.New(kverr.KindCorruption, "binlog.decodeItem", fmt.Errorf("truncated item header"))
	}

	header, err := decodeItemHeader(b[4 : 4+headerLen])
	if err != nil {
		return Item{}, err
	}

	content := make([]byte, len(b)-int(4+headerLen))
	copy(content, b[4+headerLen:])

	return Item{Header: header, Content: content}, nil
}
