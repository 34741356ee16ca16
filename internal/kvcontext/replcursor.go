package kvcontext

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/kvserver/internal/binlog"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

const replCursorFile = "repl-cursor"

// SaveReplCursor persists the slave session's local apply position so a
// restarted process can resume TrySync from where it left off instead of
// forcing a full db-sync. The file is rewritten atomically; a crash leaves
// either the old cursor or the new one, never a torn write.
func (d *Database) SaveReplCursor() error {
	if d.Slave == nil {
		return nil
	}

	content := fmt.Sprintf("%d %d\n", d.Slave.LocalApplyOffset.FileNum, d.Slave.LocalApplyOffset.Offset)

	w := newAtomicWriter()
	if err := w.WriteWithDefaults(filepath.Join(d.dir, replCursorFile), bytes.NewReader([]byte(content))); err != nil {
		return kverr.New(kverr.KindIOError, "kvcontext.Database.SaveReplCursor", err)
	}

	return nil
}

// LoadReplCursor reads the persisted apply position, reporting ok=false
// when no cursor has ever been saved.
func (d *Database) LoadReplCursor() (binlog.Position, bool, error) {
	raw, err := defaultFS.ReadFile(filepath.Join(d.dir, replCursorFile))
	if err != nil {
		if os.IsNotExist(err) {
			return binlog.Position{}, false, nil
		}

		return binlog.Position{}, false, kverr.New(kverr.KindIOError, "kvcontext.Database.LoadReplCursor", err)
	}

	var pos binlog.Position
	if _, err := fmt.Sscanf(string(raw), "%d %d", &pos.FileNum, &pos.Offset); err != nil {
		return binlog.Position{}, false, kverr.New(kverr.KindCorruption, "kvcontext.Database.LoadReplCursor", err)
	}

	return pos, true, nil
}
