package kvcontext

// The command dispatcher and the checkpoint file server live outside this
// module; these are the seams they plug into.

// CommandApplier executes one serialized command against a database's
// local command path. The replication applier feeds it every BinlogSync
// record's inner command, in order; an error aborts the batch before its
// end offset is acked.
type CommandApplier interface {
	Apply(dbName string, command []byte) error
}

// FileServer is the checkpoint-pull service a lagging slave reads a
// published snapshot through. Offsets are arbitrary; a short read at the
// end of a file is a valid response, not an error.
type FileServer interface {
	// MetaRequest names the snapshot currently published from dir and
	// lists its files relative to the snapshot root.
	MetaRequest(dir string) (snapshotID string, files []string, err error)
	// FileRequest reads up to n bytes of file at offset.
	FileRequest(snapshotID, file string, offset int64, n int) ([]byte, error)
}
