//go:build linux || darwin

package reactor

import (
	"github.com/joeycumines/tickloom/frame"
	"github.com/joeycumines/tickloom/message"
)

// connection is one directed socket: the reactor's one-connection-per-
// peer-pair policy (§5 Resource lifecycle) means a connection is keyed
// by fd, but once its peer identity is known (either supplied at Connect
// time, or learned from the first inbound frame on an accepted socket)
// it is also reachable by ProcessID via Reactor.byPeer.
type connection struct {
	fd     int
	peer   message.ProcessID // empty until bound
	reader *frame.StreamReader
	outbox [][]byte // queued writes not yet flushed
	writeInterest bool
}

func newConnection(fd int, peer message.ProcessID) *connection {
	return &connection{
		fd:     fd,
		peer:   peer,
		reader: frame.NewStreamReader(fdReader{fd: fd}),
	}
}

// queueWrite appends encoded frame bytes to the connection's outbox. The
// caller (Reactor) is responsible for toggling EventWrite interest once
// the outbox becomes non-empty.
func (c *connection) queueWrite(b []byte) {
	c.outbox = append(c.outbox, b)
}

// flush attempts to write as much of the outbox as the socket will
// currently accept, returning whether the outbox fully drained.
func (c *connection) flush() (drained bool, err error) {
	for len(c.outbox) > 0 {
		n, werr := fdWrite(c.fd, c.outbox[0])
		if n > 0 {
			c.outbox[0] = c.outbox[0][n:]
		}
		if werr != nil {
			return false, werr
		}
		if len(c.outbox[0]) > 0 {
			return false, nil // socket buffer full; wait for EventWrite
		}
		c.outbox = c.outbox[1:]
	}
	return true, nil
}
