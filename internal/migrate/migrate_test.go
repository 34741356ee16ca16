package migrate_test

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/migrate"
)

type fakeKeySource struct {
	types     map[string]codec.ValueType
	removed   map[string]bool
	deleted   map[string]bool
	ttlCmd    []string
	cmdsByKey map[string][][]string
}

func newFakeKeySource() *fakeKeySource {
	return &fakeKeySource{
		types:     map[string]codec.ValueType{},
		removed:   map[string]bool{},
		deleted:   map[string]bool{},
		cmdsByKey: map[string][][]string{},
	}
}

func (f *fakeKeySource) TypeOf(key []byte) (codec.ValueType, bool, error) {
	t, ok := f.types[string(key)]
	return t, ok, nil
}

func (f *fakeKeySource) RemoveSlotMember(t codec.ValueType, key []byte) error {
	f.removed[string(key)] = true
	return nil
}

func (f *fakeKeySource) RestoreSlotMember(t codec.ValueType, key []byte) error {
	f.removed[string(key)] = false
	return nil
}

func (f *fakeKeySource) SerializeCommands(t codec.ValueType, key []byte, maxBytes int) ([][]string, error) {
	return f.cmdsByKey[string(key)], nil
}

func (f *fakeKeySource) TTLCommand(key []byte) ([]string, error) {
	return f.ttlCmd, nil
}

func (f *fakeKeySource) DeleteLocal(t codec.ValueType, key []byte) error {
	f.deleted[string(key)] = true
	return nil
}

// fakePeerServer replies +OK to every command on every accepted
// connection, simulating a cooperative migration destination.
func fakePeerServer(t *testing.T) (addr string, closeFn func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go servePeerConn(conn)
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func servePeerConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)

	for {
		// Consume one RESP array command (we don't need its content).
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		if len(line) == 0 || line[0] != '*' {
			continue
		}

		var n int
		_, _ = fscanInt(line[1:], &n)

		for i := 0; i < n; i++ {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}

			bulk, err := r.ReadString('\n')
			if err != nil {
				return
			}

			_ = bulk
		}

		if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
			return
		}
	}
}

func fscanInt(s string, out *int) (int, error) {
	n := 0

	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}

		n = n*10 + int(c-'0')
	}

	*out = n

	return n, nil
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port := 0
	_, _ = fscanInt(portStr, &port)

	return host, port
}

func Test_MgrtTagOne_MovesKeyAndDeletesLocally(t *testing.T) {
	t.Parallel()

	addr, closeFn := fakePeerServer(t)
	defer closeFn()

	host, port := splitHostPort(t, addr)

	src := newFakeKeySource()
	src.types["k1"] = codec.TypeString
	src.cmdsByKey["k1"] = [][]string{{"SET", "k1", "v1"}}

	pool := migrate.NewPool(0)
	defer pool.CloseAll()

	moved, err := migrate.MgrtTagOne(pool, src, migrate.Options{Host: host, Port: port}, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, 1, moved)
	require.True(t, src.deleted["k1"])
	require.True(t, src.removed["k1"])
}

func Test_MgrtTagOne_MissingKey_ReturnsZeroWithoutSideEffects(t *testing.T) {
	t.Parallel()

	src := newFakeKeySource()
	pool := migrate.NewPool(0)
	defer pool.CloseAll()

	moved, err := migrate.MgrtTagOne(pool, src, migrate.Options{Host: "127.0.0.1", Port: 1}, []byte("missing"))
	require.NoError(t, err)
	require.Equal(t, 0, moved)
	require.Empty(t, src.removed)
	require.Empty(t, src.deleted)
}

func Test_Options_Validate_RejectsOwnAddress(t *testing.T) {
	t.Parallel()

	opts := migrate.Options{Host: "127.0.0.1", Port: 6380}
	require.Error(t, opts.Validate("10.0.0.5", 6380))

	opts2 := migrate.Options{Host: "10.0.0.5", Port: 6380}
	require.Error(t, opts2.Validate("10.0.0.5", 6380))

	opts3 := migrate.Options{Host: "10.0.0.9", Port: 6380}
	require.NoError(t, opts3.Validate("10.0.0.5", 6380))
}

type fakePopper struct {
	members [][]byte
}

func (p *fakePopper) PopMembers(slot uint32, n int) ([][]byte, error) {
	if n <= 0 {
		return p.members, nil
	}

	if n > len(p.members) {
		n = len(p.members)
	}

	out := p.members[:n]
	p.members = p.members[n:]

	return out, nil
}

func Test_Mover_Start_FailsWhenSlotMigrateDisabled(t *testing.T) {
	t.Parallel()

	pool := migrate.NewPool(0)
	defer pool.CloseAll()

	mover := migrate.NewMover(pool, newFakeKeySource(), &fakePopper{}, func() bool { return false })

	_, _, err := mover.Start(migrate.Options{}, 1, 10)
	require.Error(t, err)
}

func Test_Mover_Start_MigratesPoppedKeys(t *testing.T) {
	t.Parallel()

	addr, closeFn := fakePeerServer(t)
	defer closeFn()

	host, port := splitHostPort(t, addr)

	src := newFakeKeySource()
	src.types["a"] = codec.TypeString
	src.types["b"] = codec.TypeString
	src.cmdsByKey["a"] = [][]string{{"SET", "a", "1"}}
	src.cmdsByKey["b"] = [][]string{{"SET", "b", "2"}}

	popper := &fakePopper{members: [][]byte{
		append([]byte{'k'}, "a"...),
		append([]byte{'k'}, "b"...),
	}}

	pool := migrate.NewPool(0)
	defer pool.CloseAll()

	mover := migrate.NewMover(pool, src, popper, func() bool { return true })

	moved, remaining, err := mover.Start(migrate.Options{Host: host, Port: port}, 5, 2)
	require.NoError(t, err)
	require.Equal(t, 2, moved)
	require.Equal(t, 0, remaining)

	status := mover.AsyncStatus()
	require.False(t, status.Migrating)
	require.Equal(t, 2, status.Moved)
}
