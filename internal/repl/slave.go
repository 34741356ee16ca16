package repl

import (
	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/replwire"
)

// SlaveSession is one database's slave-side replication session.
type SlaveSession struct {
	MasterAddr string
	DBName     string
	SessionID  uint64

	State SlaveState

	// LocalApplyOffset is the highest position this slave has applied.
	LocalApplyOffset binlog.Position
	// RemoteSentOffset is the highest position the master has reported sent.
	RemoteSentOffset binlog.Position

	// MetaSynced records that classic-mode's one-time MetaSync handshake
	// completed; non-classic deployments never set it and proceed straight
	// to per-database TrySync.
	MetaSynced bool
}

// NewSlaveSession starts a fresh, unconnected session for a database.
func NewSlaveSession(masterAddr, dbName string) *SlaveSession {
	return &SlaveSession{MasterAddr: masterAddr, DBName: dbName, State: StateNotStarted}
}

// Start transitions out of NotStarted into TryConnect, the entry point of
// the lifecycle.
func (s *SlaveSession) Start() {
	s.State = StateTryConnect
}

// MetaSyncAcked records that classic-mode's one-time MetaSync handshake
// completed.
func (s *SlaveSession) MetaSyncAcked(replwire.MetaSyncResponse) {
	s.MetaSynced = true
}

// TrySync builds the request the slave sends once per database while in
// TryConnect, and moves the session to WaitReply to await the verdict.
func (s *SlaveSession) TrySync() replwire.TrySyncRequest {
	s.State = StateWaitReply

	return replwire.TrySyncRequest{
		DBName:    s.DBName,
		SessionID: s.SessionID,
		Offset:    positionToWire(s.LocalApplyOffset),
	}
}

// HandleTrySyncResponse applies the master's verdict, implementing the
// `WaitReply → Connected` and `any → TryDBSync` edges.
func (s *SlaveSession) HandleTrySyncResponse(resp replwire.TrySyncResponse) error {
	switch resp.Code {
	case replwire.TrySyncOK:
		s.SessionID = resp.SessionID
		s.State = StateConnected

		return nil
	case replwire.TrySyncNeedDBSync:
		s.State = StateTryDBSync

		return nil
	default:
		s.State = StateTryConnect

		return kverr.New(kverr.KindNetworkError, "repl.SlaveSession.HandleTrySyncResponse", errTrySyncFailed)
	}
}

// DBSyncRequest builds the checkpoint request sent from TryDBSync.
func (s *SlaveSession) DBSyncRequest() replwire.DBSyncRequest {
	return replwire.DBSyncRequest{DBName: s.DBName}
}

// HandleDBSyncResponse records the master's assigned session and moves to
// WaitDBSync, awaiting the checkpoint pull and local restore.
func (s *SlaveSession) HandleDBSyncResponse(resp replwire.DBSyncResponse) {
	s.SessionID = resp.SessionID
	s.State = StateWaitDBSync
}

// CheckpointApplied completes the `TryDBSync → WaitDBSync → Connected`
// path once the pulled checkpoint has been restored and its offset adopted
// as the new local apply position.
func (s *SlaveSession) CheckpointApplied(at binlog.Position) {
	s.LocalApplyOffset = at
	s.RemoteSentOffset = at
	s.State = StateConnected
}

// ApplyBinlogSync validates and advances session state for an inbound
// streaming frame, before the caller dispatches its command. Callers MUST
// call Acked only after every record in the batch has been applied, never
// before.
func (s *SlaveSession) ApplyBinlogSync(req replwire.BinlogSyncRequest) error {
	if s.State != StateConnected {
		return kverr.New(kverr.KindInvalidArgument, "repl.SlaveSession.ApplyBinlogSync", errNotConnected)
	}

	if req.SessionID != s.SessionID {
		s.State = StateTryConnect

		return kverr.New(kverr.KindSessionMismatch, "repl.SlaveSession.ApplyBinlogSync", errSessionMismatch)
	}

	s.RemoteSentOffset = wireToPosition(req.Offset)

	return nil
}

// Acked records that every record through end has been applied, and
// returns the ack frame to send back to the master.
func (s *SlaveSession) Acked(start, end binlog.Position) replwire.BinlogAck {
	s.LocalApplyOffset = end

	return replwire.BinlogAck{
		SessionID: s.SessionID,
		DBName:    s.DBName,
		Start:     positionToWire(start),
		End:       positionToWire(end),
	}
}

// Reconnect forces the `any → TryConnect` edge, used on error, session
// mismatch, or a handshake timeout.
func (s *SlaveSession) Reconnect() {
	s.State = StateTryConnect
}

func positionToWire(p binlog.Position) replwire.BinlogOffset {
	return replwire.BinlogOffset{FileNum: p.FileNum, Offset: uint64(p.Offset)}
}

func wireToPosition(o replwire.BinlogOffset) binlog.Position {
	return binlog.Position{FileNum: o.FileNum, Offset: int64(o.Offset)}
}
