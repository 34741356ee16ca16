package kvcontext

import (
	"errors"

	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/replwire"
)

// ApplyBinlogBatch runs a batch of inbound BinlogSync frames through the
// database's slave session and applier: each frame is validated against
// the session, its inner command dispatched in order, and the ack covering
// [start, end] built only after every record in the batch has applied.
//
// A session mismatch drops the remainder of the batch and leaves the
// session in TryConnect; the frames applied so far stay applied (they
// belonged to the old session's contiguous prefix).
func (d *Database) ApplyBinlogBatch(applier CommandApplier, frames []replwire.BinlogSyncRequest) (*replwire.BinlogAck, error) {
	if d.Slave == nil {
		return nil, kverr.New(kverr.KindInvalidArgument, "kvcontext.Database.ApplyBinlogBatch", errors.New("database has no slave session"))
	}

	start := d.Slave.LocalApplyOffset
	end := start
	applied := false

	for _, frame := range frames {
		if err := d.Slave.ApplyBinlogSync(frame); err != nil {
			return nil, err
		}

		if !frame.IsKeepalive() {
			if err := applier.Apply(d.Name, frame.Binlog); err != nil {
				return nil, err
			}

			applied = true
		}

		end = binlog.Position{FileNum: frame.Offset.FileNum, Offset: int64(frame.Offset.Offset)}
	}

	if !applied && len(frames) == 0 {
		return nil, nil
	}

	ack := d.Slave.Acked(start, end)

	return &ack, nil
}
