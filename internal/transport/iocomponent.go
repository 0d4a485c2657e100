package transport

import "net"

// IOComponent is any connection, listener, or similar object tied to
// exactly one worker (§4.5). The back-reference to Owner breaks what would
// otherwise be a worker<->component ownership cycle: the worker owns the
// component, the component only refers back non-owningly.
type IOComponent interface {
	Owner() Worker
	Close() error
}

// Connector is the handle returned by Listen.
type Connector interface {
	IOComponent
	Addr() net.Addr
}

// Connection is the handle returned by Connect.
type Connection interface {
	IOComponent
	RemoteAddr() net.Addr
	Write(b []byte) (int, error)
}

type tcpListener struct {
	owner    *tcpWorker
	ln       net.Listener
	streamer Streamer
	adapter  ServerAdapter
}

func (c *tcpListener) Owner() Worker { return c.owner }
func (c *tcpListener) Addr() net.Addr { return c.ln.Addr() }
func (c *tcpListener) Close() error { return c.ln.Close() }

// acceptLoop hands every inbound connection to the streamer/adapter pair
// supplied at Listen time. Accepting, framing and any per-connection retry
// policy belong to those out-of-scope collaborators (spec.md §1); this
// loop only bridges net.Listener into that contract.
func (c *tcpListener) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		accepted := &tcpConn{owner: c.owner, conn: conn, streamer: c.streamer, adapter: c.adapter}
		c.owner.register(accepted)
	}
}

type tcpConn struct {
	owner    *tcpWorker
	conn     net.Conn
	streamer Streamer
	adapter  ServerAdapter
	ctx      any
}

func (c *tcpConn) Owner() Worker { return c.owner }
func (c *tcpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *tcpConn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *tcpConn) Close() error { return c.conn.Close() }
