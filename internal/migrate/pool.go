package migrate

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// peerAddr is the pool key.
type peerAddr struct {
	host string
	port int
}

func (a peerAddr) String() string { return fmt.Sprintf("%s:%d", a.host, a.port) }

// peerConn wraps one outbound connection to a peer instance.
type peerConn struct {
	addr peerAddr
	conn net.Conn
	r    *bufio.Reader
}

func (c *peerConn) send(args ...string) error {
	if _, err := c.conn.Write(encodeCommand(args...)); err != nil {
		return kverr.New(kverr.KindNetworkError, "migrate.peerConn.send", err)
	}

	return nil
}

func (c *peerConn) recv() (Reply, error) {
	return readReply(c.r)
}

func (c *peerConn) close() error { return c.conn.Close() }

// Pool owns every live peer connection under a single mutex, keyed by
// (host, port). Unlike a strict one-connection-per-peer cache, it hands
// out as many concurrent connections to the same peer as callers ask for
// - the async mover keeps up to AsyncRecvsNum transfers to the same
// destination in flight at once, each needing its own connection. Idle
// connections are cached per address and reused by the next Get for that
// address; Evict discards a broken one for good.
type Pool struct {
	mu    sync.Mutex
	idle  map[peerAddr][]*peerConn
	total map[peerAddr]int

	dialTimeout time.Duration
}

// NewPool returns an empty connection pool.
func NewPool(dialTimeout time.Duration) *Pool {
	return &Pool{idle: make(map[peerAddr][]*peerConn), total: make(map[peerAddr]int), dialTimeout: dialTimeout}
}

// Get returns an idle pooled connection to host:port, dialing a new one if
// none is cached. Callers MUST call Put or Evict when done.
func (p *Pool) Get(host string, port int) (*peerConn, error) {
	addr := peerAddr{host: host, port: port}

	p.mu.Lock()
	if conns := p.idle[addr]; len(conns) > 0 {
		c := conns[len(conns)-1]
		p.idle[addr] = conns[:len(conns)-1]
		p.mu.Unlock()

		return c, nil
	}
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr.String(), p.dialTimeout)
	if err != nil {
		return nil, kverr.New(kverr.KindNetworkError, "migrate.Pool.Get", err)
	}

	c := &peerConn{addr: addr, conn: conn, r: bufio.NewReader(conn)}

	p.mu.Lock()
	p.total[addr]++
	p.mu.Unlock()

	return c, nil
}

// Put returns a healthy connection to the idle pool for its address, for
// reuse by a later Get.
func (p *Pool) Put(c *peerConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.idle[c.addr] = append(p.idle[c.addr], c)
}

// Evict closes and discards a connection that failed - "a move-out
// followed by close on the owning thread".
func (p *Pool) Evict(c *peerConn) {
	p.mu.Lock()
	p.total[c.addr]--
	if p.total[c.addr] <= 0 {
		delete(p.total, c.addr)
	}
	p.mu.Unlock()

	_ = c.close()
}

// CloseAll closes every idle pooled connection, used on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, conns := range p.idle {
		for _, c := range conns {
			_ = c.close()
		}

		delete(p.idle, addr)
		delete(p.total, addr)
	}
}
