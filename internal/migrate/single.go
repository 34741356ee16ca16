package migrate

import (
	"fmt"
	"time"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// Options configures a single migration call.
type Options struct {
	Host     string
	Port     int
	Password string
	// Timeout bounds the whole exchange with the peer for this call: one
	// deadline is set on the connection when it is taken from the pool.
	// Zero means no deadline.
	Timeout time.Duration
}

// Validate rejects migrating to a destination that is this instance itself.
func (o Options) Validate(selfHost string, selfPort int) error {
	if (o.Host == "127.0.0.1" || o.Host == selfHost) && o.Port == selfPort {
		return kverr.New(kverr.KindInvalidArgument, "migrate.Options.Validate", fmt.Errorf("destination address error"))
	}

	return nil
}

// MgrtTagOne migrates exactly one key to a peer: resolve its type, drop
// its slot-set membership, send its content, then delete it locally. It
// returns moved=1 on success, moved=0 if the key did not exist locally.
func MgrtTagOne(pool *Pool, src KeySource, opts Options, key []byte) (moved int, err error) {
	t, ok, err := src.TypeOf(key)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	if err := src.RemoveSlotMember(t, key); err != nil {
		return 0, err
	}

	conn, err := pool.Get(opts.Host, opts.Port)
	if err != nil {
		_ = src.RestoreSlotMember(t, key)
		return 0, err
	}

	if opts.Timeout > 0 {
		_ = conn.conn.SetDeadline(time.Now().Add(opts.Timeout))
	} else {
		_ = conn.conn.SetDeadline(time.Time{})
	}

	if err := sendKey(conn, src, t, key, opts.Password); err != nil {
		pool.Evict(conn)
		_ = src.RestoreSlotMember(t, key)

		return 0, err
	}

	pool.Put(conn)

	if err := src.DeleteLocal(t, key); err != nil {
		return 0, err
	}

	return 1, nil
}

// sendKey performs the peer handshake, sends every serialized sub-command
// of key in MaxKeySendSize batches, and requires an ack for each.
func sendKey(conn *peerConn, src KeySource, t codec.ValueType, key []byte, password string) error {
	if err := handshake(conn, password); err != nil {
		return err
	}

	cmds, err := src.SerializeCommands(t, key, MaxKeySendSize)
	if err != nil {
		return err
	}

	if ttl, err := src.TTLCommand(key); err != nil {
		return err
	} else if ttl != nil {
		cmds = append(cmds, ttl)
	}

	for _, batch := range chunkCommands(cmds, MaxKeySendSize) {
		if err := sendBatch(conn, batch); err != nil {
			return err
		}
	}

	return nil
}

// chunkCommands groups commands so that no group's encoded size exceeds
// maxBytes. A single command larger than maxBytes still gets its own,
// oversized batch rather than being split mid-command.
func chunkCommands(cmds [][]string, maxBytes int) [][][]string {
	var batches [][][]string

	var (
		current [][]string
		size    int
	)

	for _, cmd := range cmds {
		n := len(encodeCommand(cmd...))

		if len(current) > 0 && size+n > maxBytes {
			batches = append(batches, current)
			current = nil
			size = 0
		}

		current = append(current, cmd)
		size += n
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// sendBatch pipelines every command in batch, then requires an ack for
// each before returning.
func sendBatch(conn *peerConn, batch [][]string) error {
	for _, cmd := range batch {
		if err := conn.send(cmd...); err != nil {
			return err
		}
	}

	for range batch {
		reply, err := conn.recv()
		if err != nil {
			return err
		}

		if reply.IsError() {
			return kverr.New(kverr.KindNetworkError, "migrate.sendBatch", fmt.Errorf("peer rejected command: %s", reply.Str))
		}
	}

	return nil
}
