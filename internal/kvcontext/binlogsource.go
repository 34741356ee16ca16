package kvcontext

import (
	"github.com/calvinalkan/kvserver/internal/binlog"
)

// BinlogSource adapts a database's on-disk binlog into the
// repl.BinlogSource the master's producer loop reads from: a fresh
// [binlog.Reader] anchored at the requested position is opened and
// closed per call, since the producer loop only ever asks for the single
// next record past a slave's current sent offset.
type BinlogSource struct {
	dir string
}

// NewBinlogSource wraps db's binlog for replication fan-out.
func NewBinlogSource(db *Database) *BinlogSource {
	return &BinlogSource{dir: db.Binlog.Dir()}
}

// ReadAt implements repl.BinlogSource.
func (s *BinlogSource) ReadAt(from binlog.Position) (binlog.Item, binlog.Position, error) {
	r, err := binlog.NewReader(s.dir, defaultFS, from)
	if err != nil {
		return binlog.Item{}, binlog.Position{}, err
	}
	defer r.Close()

	item, err := r.Next()
	if err != nil {
		return binlog.Item{}, binlog.Position{}, err
	}

	return item, r.Position(), nil
}
