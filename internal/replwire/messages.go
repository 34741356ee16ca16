package replwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// BinlogOffset is the {filenum, offset, term, index} position carried on
// every sync and ack frame.
type BinlogOffset struct {
	FileNum uint64
	Offset  uint64
	Term    uint64
	Index   uint64
}

const (
	fieldOffsetFileNum protowire.Number = 1
	fieldOffsetOffset  protowire.Number = 2
	fieldOffsetTerm    protowire.Number = 3
	fieldOffsetIndex   protowire.Number = 4
)

func appendBinlogOffset(b []byte, field protowire.Number, o BinlogOffset) []byte {
	inner := encodeBinlogOffset(o)
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	return b
}

func encodeBinlogOffset(o BinlogOffset) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldOffsetFileNum, protowire.VarintType)
	b = protowire.AppendVarint(b, o.FileNum)
	b = protowire.AppendTag(b, fieldOffsetOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, o.Offset)
	b = protowire.AppendTag(b, fieldOffsetTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, o.Term)
	b = protowire.AppendTag(b, fieldOffsetIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, o.Index)

	return b
}

func decodeBinlogOffset(b []byte) (BinlogOffset, error) {
	var o BinlogOffset

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		val, _ := protowire.ConsumeVarint(v)

		switch num {
		case fieldOffsetFileNum:
			o.FileNum = val
		case fieldOffsetOffset:
			o.Offset = val
		case fieldOffsetTerm:
			o.Term = val
		case fieldOffsetIndex:
			o.Index = val
		}

		return nil
	})

	return o, err
}

// forEachField iterates the top-level fields of a protowire-encoded
// message, handing each field's still-encoded value to fn. Unknown field
// numbers are silently skipped, matching protobuf's forward-compatibility
// rule.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad tag"))
		}

		b = b[n:]

		var val []byte

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad varint"))
			}

			val = protowire.AppendVarint(nil, v)
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad bytes"))
			}

			val = v
			b = b[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad fixed32"))
			}

			val = protowire.AppendFixed32(nil, v)
			b = b[m:]
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad fixed64"))
			}

			val = protowire.AppendFixed64(nil, v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return kverr.New(kverr.KindCorruption, "replwire.forEachField", fmt.Errorf("bad field"))
			}

			b = b[m:]

			continue
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
	}

	return nil
}

// MetaSyncRequest carries no fields beyond the frame type itself; it is the
// slave's one-time announcement.
type MetaSyncRequest struct{}

func (MetaSyncRequest) Encode() []byte { return nil }

func DecodeMetaSyncRequest([]byte) (MetaSyncRequest, error) { return MetaSyncRequest{}, nil }

// MetaSyncResponse tells the slave whether the master runs classic
// (handshake) mode and its replication identity.
type MetaSyncResponse struct {
	ClassicMode   bool
	ReplicationID string
}

const (
	fieldMetaSyncClassicMode protowire.Number = 1
	fieldMetaSyncReplID      protowire.Number = 2
)

func (m MetaSyncResponse) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldMetaSyncClassicMode, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(m.ClassicMode))
	b = protowire.AppendTag(b, fieldMetaSyncReplID, protowire.BytesType)
	b = protowire.AppendString(b, m.ReplicationID)

	return b
}

func DecodeMetaSyncResponse(b []byte) (MetaSyncResponse, error) {
	var m MetaSyncResponse

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldMetaSyncClassicMode:
			val, _ := protowire.ConsumeVarint(v)
			m.ClassicMode = val != 0
		case fieldMetaSyncReplID:
			m.ReplicationID = string(v)
		}

		return nil
	})

	return m, err
}

// TrySyncRequest is the slave's per-database offset hint.
type TrySyncRequest struct {
	DBName    string
	SessionID uint64
	Offset    BinlogOffset
}

const (
	fieldTrySyncDBName    protowire.Number = 1
	fieldTrySyncSessionID protowire.Number = 2
	fieldTrySyncOffset    protowire.Number = 3
)

func (r TrySyncRequest) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldTrySyncDBName, protowire.BytesType)
	b = protowire.AppendString(b, r.DBName)
	b = protowire.AppendTag(b, fieldTrySyncSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SessionID)
	b = appendBinlogOffset(b, fieldTrySyncOffset, r.Offset)

	return b
}

func DecodeTrySyncRequest(b []byte) (TrySyncRequest, error) {
	var r TrySyncRequest

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldTrySyncDBName:
			r.DBName = string(v)
		case fieldTrySyncSessionID:
			val, _ := protowire.ConsumeVarint(v)
			r.SessionID = val
		case fieldTrySyncOffset:
			off, err := decodeBinlogOffset(v)
			if err != nil {
				return err
			}

			r.Offset = off
		}

		return nil
	})

	return r, err
}

// TrySyncCode is the master's verdict on a TrySync request.
type TrySyncCode byte

const (
	TrySyncOK TrySyncCode = iota + 1
	TrySyncNeedDBSync
	TrySyncError
)

// TrySyncResponse answers a TrySyncRequest.
type TrySyncResponse struct {
	Code      TrySyncCode
	SessionID uint64
}

const (
	fieldTrySyncRespCode      protowire.Number = 1
	fieldTrySyncRespSessionID protowire.Number = 2
)

func (r TrySyncResponse) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldTrySyncRespCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Code))
	b = protowire.AppendTag(b, fieldTrySyncRespSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SessionID)

	return b
}

func DecodeTrySyncResponse(b []byte) (TrySyncResponse, error) {
	var r TrySyncResponse

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		val, _ := protowire.ConsumeVarint(v)

		switch num {
		case fieldTrySyncRespCode:
			r.Code = TrySyncCode(val)
		case fieldTrySyncRespSessionID:
			r.SessionID = val
		}

		return nil
	})

	return r, err
}

// DBSyncRequest asks the master to publish a checkpoint the slave can pull.
type DBSyncRequest struct {
	DBName string
}

const fieldDBSyncDBName protowire.Number = 1

func (r DBSyncRequest) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldDBSyncDBName, protowire.BytesType)
	b = protowire.AppendString(b, r.DBName)

	return b
}

func DecodeDBSyncRequest(b []byte) (DBSyncRequest, error) {
	var r DBSyncRequest

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == fieldDBSyncDBName {
			r.DBName = string(v)
		}

		return nil
	})

	return r, err
}

// DBSyncResponse names the checkpoint snapshot the slave should fetch via
// the file-serving collaborator.
type DBSyncResponse struct {
	SessionID  uint64
	SnapshotID string
	Offset     BinlogOffset
}

const (
	fieldDBSyncRespSessionID  protowire.Number = 1
	fieldDBSyncRespSnapshotID protowire.Number = 2
	fieldDBSyncRespOffset     protowire.Number = 3
)

func (r DBSyncResponse) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldDBSyncRespSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SessionID)
	b = protowire.AppendTag(b, fieldDBSyncRespSnapshotID, protowire.BytesType)
	b = protowire.AppendString(b, r.SnapshotID)
	b = appendBinlogOffset(b, fieldDBSyncRespOffset, r.Offset)

	return b
}

func DecodeDBSyncResponse(b []byte) (DBSyncResponse, error) {
	var r DBSyncResponse

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldDBSyncRespSessionID:
			val, _ := protowire.ConsumeVarint(v)
			r.SessionID = val
		case fieldDBSyncRespSnapshotID:
			r.SnapshotID = string(v)
		case fieldDBSyncRespOffset:
			off, err := decodeBinlogOffset(v)
			if err != nil {
				return err
			}

			r.Offset = off
		}

		return nil
	})

	return r, err
}

// BinlogSyncRequest is the master→slave log-streaming frame; an empty
// Binlog payload is a keepalive.
type BinlogSyncRequest struct {
	SessionID uint64
	DBName    string
	Offset    BinlogOffset
	Binlog    []byte
}

const (
	fieldBinlogSyncSessionID protowire.Number = 1
	fieldBinlogSyncDBName    protowire.Number = 2
	fieldBinlogSyncOffset    protowire.Number = 3
	fieldBinlogSyncBinlog    protowire.Number = 4
)

func (r BinlogSyncRequest) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldBinlogSyncSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SessionID)
	b = protowire.AppendTag(b, fieldBinlogSyncDBName, protowire.BytesType)
	b = protowire.AppendString(b, r.DBName)
	b = appendBinlogOffset(b, fieldBinlogSyncOffset, r.Offset)
	b = protowire.AppendTag(b, fieldBinlogSyncBinlog, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Binlog)

	return b
}

// IsKeepalive reports whether this frame carries no command payload.
func (r BinlogSyncRequest) IsKeepalive() bool { return len(r.Binlog) == 0 }

func DecodeBinlogSyncRequest(b []byte) (BinlogSyncRequest, error) {
	var r BinlogSyncRequest

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldBinlogSyncSessionID:
			val, _ := protowire.ConsumeVarint(v)
			r.SessionID = val
		case fieldBinlogSyncDBName:
			r.DBName = string(v)
		case fieldBinlogSyncOffset:
			off, err := decodeBinlogOffset(v)
			if err != nil {
				return err
			}

			r.Offset = off
		case fieldBinlogSyncBinlog:
			r.Binlog = append([]byte(nil), v...)
		}

		return nil
	})

	return r, err
}

// RemoveSlaveNodeRequest tells the master to drop a database's replication
// session (graceful slave shutdown).
type RemoveSlaveNodeRequest struct {
	DBName string
}

const fieldRemoveSlaveDBName protowire.Number = 1

func (r RemoveSlaveNodeRequest) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldRemoveSlaveDBName, protowire.BytesType)
	b = protowire.AppendString(b, r.DBName)

	return b
}

func DecodeRemoveSlaveNodeRequest(b []byte) (RemoveSlaveNodeRequest, error) {
	var r RemoveSlaveNodeRequest

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == fieldRemoveSlaveDBName {
			r.DBName = string(v)
		}

		return nil
	})

	return r, err
}

// BinlogAck is the slave's acknowledgment of an applied range.
type BinlogAck struct {
	SessionID uint64
	DBName    string
	Start     BinlogOffset
	End       BinlogOffset
}

const (
	fieldAckSessionID protowire.Number = 1
	fieldAckDBName    protowire.Number = 2
	fieldAckStart     protowire.Number = 3
	fieldAckEnd       protowire.Number = 4
)

func (a BinlogAck) Encode() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldAckSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, a.SessionID)
	b = protowire.AppendTag(b, fieldAckDBName, protowire.BytesType)
	b = protowire.AppendString(b, a.DBName)
	b = appendBinlogOffset(b, fieldAckStart, a.Start)
	b = appendBinlogOffset(b, fieldAckEnd, a.End)

	return b
}

func DecodeBinlogAck(b []byte) (BinlogAck, error) {
	var a BinlogAck

	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldAckSessionID:
			val, _ := protowire.ConsumeVarint(v)
			a.SessionID = val
		case fieldAckDBName:
			a.DBName = string(v)
		case fieldAckStart:
			off, err := decodeBinlogOffset(v)
			if err != nil {
				return err
			}

			a.Start = off
		case fieldAckEnd:
			off, err := decodeBinlogOffset(v)
			if err != nil {
				return err
			}

			a.End = off
		}

		return nil
	})

	return a, err
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}
