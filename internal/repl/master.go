package repl

import (
	"sync"
	"time"

	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/kverr"
	"github.com/calvinalkan/kvserver/internal/replwire"
)

// SlaveHandle is the master's view of one subscribed slave.
type SlaveHandle struct {
	Addr       string
	SessionID  uint64
	AckOffset  binlog.Position
	SentOffset binlog.Position
	Window     int
	LastActive time.Time
}

// outstanding reports how far the sent offset is ahead of the acked
// offset, in bytes within one segment; ProducerStep compares it against
// the window.
func (h *SlaveHandle) outstanding() int64 {
	if h.SentOffset.FileNum != h.AckOffset.FileNum {
		// Different segments: treat as "more than window" conservatively
		// without walking file sizes; the producer loop only needs a
		// bool, not an exact count.
		return int64(h.Window) + 1
	}

	return h.SentOffset.Offset - h.AckOffset.Offset
}

// MasterDB is the master-side replication manager for one database:
// subscribed slaves plus the producer loop that feeds each from the
// binlog.
type MasterDB struct {
	mu            sync.Mutex
	nextSessionID uint64
	slaves        map[string]*SlaveHandle
}

// NewMasterDB returns an empty per-database master manager.
func NewMasterDB() *MasterDB {
	return &MasterDB{slaves: make(map[string]*SlaveHandle)}
}

// Subscribe registers (or re-registers) a slave, assigning it a fresh
// session id. Session ids are handed out on db-sync.
func (m *MasterDB) Subscribe(addr string, window int, startAt binlog.Position) *SlaveHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSessionID++

	h := &SlaveHandle{
		Addr:       addr,
		SessionID:  m.nextSessionID,
		AckOffset:  startAt,
		SentOffset: startAt,
		Window:     window,
		LastActive: time.Now(),
	}
	m.slaves[addr] = h

	return h
}

// Unsubscribe implements RemoveSlaveNode: drops a database's replication
// session.
func (m *MasterDB) Unsubscribe(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slaves, addr)
}

// HandleAck advances a slave's ack_offset. An ack whose session id
// disagrees with the stored session is dropped and the slave is marked for
// re-handshake by removing it.
func (m *MasterDB) HandleAck(addr string, ack replwire.BinlogAck) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.slaves[addr]
	if !ok {
		return kverr.New(kverr.KindNotFound, "repl.MasterDB.HandleAck", errUnknownSlave)
	}

	if h.SessionID != ack.SessionID {
		delete(m.slaves, addr)

		return kverr.New(kverr.KindSessionMismatch, "repl.MasterDB.HandleAck", errSessionMismatch)
	}

	h.AckOffset = wireToPosition(ack.End)
	h.LastActive = time.Now()

	return nil
}

// BinlogSource is the read path the producer loop pulls from: the tail of
// one database's binlog.
type BinlogSource interface {
	// ReadAt returns the next item at or after from, plus the position the
	// following item starts at.
	ReadAt(from binlog.Position) (item binlog.Item, next binlog.Position, err error)
}

// ProducerStep advances one slave by at most one record: if
// sent_offset - ack_offset < window, read the next record and build a
// BinlogSync frame for the slave's writer queue. It returns (nil, nil) when
// the slave's window is full and no frame should be sent.
func (m *MasterDB) ProducerStep(addr string, dbName string, src BinlogSource) (*replwire.BinlogSyncRequest, error) {
	m.mu.Lock()
	h, ok := m.slaves[addr]

	if !ok {
		m.mu.Unlock()
		return nil, kverr.New(kverr.KindNotFound, "repl.MasterDB.ProducerStep", errUnknownSlave)
	}

	full := h.outstanding() >= int64(h.Window)
	sentOffset := h.SentOffset
	m.mu.Unlock()

	if full {
		return nil, nil
	}

	item, next, err := src.ReadAt(sentOffset)
	if err != nil {
		if err == binlog.ErrEOF {
			return nil, nil
		}

		return nil, err
	}

	m.mu.Lock()
	h.SentOffset = next
	h.LastActive = time.Now()
	m.mu.Unlock()

	return &replwire.BinlogSyncRequest{
		SessionID: h.SessionID,
		DBName:    dbName,
		Offset:    positionToWire(next),
		Binlog:    item.Content,
	}, nil
}

// Keepalive builds an empty BinlogSync frame for a slave idle past
// keepaliveInterval.
func (m *MasterDB) Keepalive(addr, dbName string, keepaliveInterval time.Duration) *replwire.BinlogSyncRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.slaves[addr]
	if !ok || time.Since(h.LastActive) <= keepaliveInterval {
		return nil
	}

	h.LastActive = time.Now()

	return &replwire.BinlogSyncRequest{
		SessionID: h.SessionID,
		DBName:    dbName,
		Offset:    positionToWire(h.SentOffset),
	}
}

// Slave returns the current handle for addr, for tests and status reporting.
func (m *MasterDB) Slave(addr string) (SlaveHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.slaves[addr]
	if !ok {
		return SlaveHandle{}, false
	}

	return *h, true
}
