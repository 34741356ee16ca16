// Package replwire implements the length-prefixed, protobuf-wire-format
// replication frames: MetaSync, TrySync, DBSync, BinlogSync,
// RemoveSlaveNode, BinlogAck.
//
// There is no .proto file and no protoc step: each message is encoded and
// decoded directly with google.golang.org/protobuf/encoding/protowire's
// varint/tag/bytes primitives, the same low-level encoder the generated
// protobuf code itself is built on.
package replwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// MessageType tags the frame payload that follows.
type MessageType byte

const (
	TypeMetaSyncRequest MessageType = iota + 1
	TypeMetaSyncResponse
	TypeTrySyncRequest
	TypeTrySyncResponse
	TypeDBSyncRequest
	TypeDBSyncResponse
	TypeBinlogSyncRequest
	TypeRemoveSlaveNodeRequest
	TypeBinlogAck
)

// maxFrameLen bounds a single frame's payload to guard against a corrupt or
// hostile length prefix causing an unbounded allocation.
const maxFrameLen = 128 << 20

// WriteFrame writes a length-prefixed frame: [4-byte big-endian length][1-byte type][payload].
func WriteFrame(w io.Writer, msgType MessageType, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)+1))
	header[4] = byte(msgType)

	if _, err := w.Write(header); err != nil {
		return kverr.New(kverr.KindNetworkError, "replwire.WriteFrame", err)
	}

	if _, err := w.Write(payload); err != nil {
		return kverr.New(kverr.KindNetworkError, "replwire.WriteFrame", err)
	}

	return nil
}

// ReadFrame reads one frame written by [WriteFrame].
func ReadFrame(r *bufio.Reader) (MessageType, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, kverr.New(kverr.KindNetworkError, "replwire.ReadFrame", err)
	}

	n := binary.BigEndian.Uint32(header)
	if n == 0 || n > maxFrameLen {
		return 0, nil, kverr.New(kverr.KindCorruption, "replwire.ReadFrame", fmt.Errorf("frame length %d out of range", n))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, kverr.New(kverr.KindNetworkError, "replwire.ReadFrame", err)
	}

	return MessageType(body[0]), body[1:], nil
}
