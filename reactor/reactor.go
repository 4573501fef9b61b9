//go:build linux || darwin

// Package reactor (continued): Reactor ties the Poller and connection
// plumbing together into the real transport counterpart of
// network.SimulatedNetwork. It implements the same bus.Sender capability
// (Send(message.Message) error) so a Cluster in "real reactor" mode can
// swap it in without the bus or Process layers noticing (§4.G).
package reactor

import (
	"encoding/json"

	"github.com/joeycumines/tickloom/bus"
	"github.com/joeycumines/tickloom/frame"
	"github.com/joeycumines/tickloom/message"
	"github.com/joeycumines/tickloom/tlerrors"
	"github.com/joeycumines/tickloom/topology"
)

var _ bus.Sender = (*Reactor)(nil)

// maxFramesPerRead caps how many socket reads are made on one connection
// per readiness notification, so one very talkative peer cannot starve
// the others sharing this goroutine. It does not cap frames: every frame
// completed by each of those reads is dispatched.
const maxFramesPerRead = 64

// wireMessage is the on-the-wire encoding of a message.Message: the
// reactor's Frame carries one wireMessage per payload, keeping the
// length-prefixed framing (§4.A) and the data model (§3) decoupled from
// any particular process-level serialization choice.
type wireMessage struct {
	Source        message.ProcessID `json:"source"`
	Destination   message.ProcessID `json:"destination"`
	MessageType   string            `json:"message_type"`
	Payload       []byte            `json:"payload"`
	CorrelationID string            `json:"correlation_id"`
}

// Dispatcher receives fully-assembled inbound messages and disconnect
// notifications.
type Dispatcher interface {
	OnMessage(msg message.Message)
	OnPeerDisconnected(peer message.ProcessID, err error)
}

// Reactor is a non-blocking, single-threaded TCP multiplexer. All
// methods are expected to run on the same goroutine that calls PollOnce
// (§5: no locking, because there is no parallelism).
type Reactor struct {
	poller     Poller
	dispatcher Dispatcher
	topo       topology.Topology
	listenFD   int

	byFD   map[int]*connection
	byPeer map[message.ProcessID]*connection
}

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithTopology attaches a Topology the Reactor consults to resolve a
// destination ProcessID into an address when Send targets a peer with no
// existing connection (§4.C: "looks up or creates a socket for
// message.destination from the ClusterTopology"). Without a Topology, Send
// to an unconnected peer fails and callers must dial explicitly via
// Connect.
func WithTopology(t topology.Topology) Option {
	return func(r *Reactor) { r.topo = t }
}

// New constructs a Reactor delivering inbound messages and disconnects
// to dispatcher.
func New(dispatcher Dispatcher, opts ...Option) (*Reactor, error) {
	p := newPoller()
	if err := p.Init(); err != nil {
		return nil, err
	}
	r := &Reactor{
		poller:     p,
		dispatcher: dispatcher,
		listenFD:   -1,
		byFD:       make(map[int]*connection),
		byPeer:     make(map[message.ProcessID]*connection),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Listen starts accepting inbound connections on addr.
func (r *Reactor) Listen(addr string) error {
	fd, err := listenTCP4(addr)
	if err != nil {
		return err
	}
	r.listenFD = fd
	return r.poller.RegisterFD(fd, EventRead, r.onListenerReadable)
}

// Connect opens an outbound connection to peer at addr. The connection's
// peer identity is known immediately (unlike an accepted connection,
// whose peer is learned from its first inbound frame), enforcing the
// one-connection-per-directed-peer-pair policy (§5) at connect time: a
// second Connect to an already-connected peer is rejected.
func (r *Reactor) Connect(peer message.ProcessID, addr string) error {
	if _, exists := r.byPeer[peer]; exists {
		return tlerrors.NewStateError("Reactor.Connect", "already connected to peer: "+string(peer))
	}
	_, err := r.dial(peer, addr)
	return err
}

// resolveAndDial looks peer up in the configured Topology and dials it,
// implementing §4.C's "look up or create a socket ... from the
// ClusterTopology" behavior for Send targeting a peer with no existing
// connection.
func (r *Reactor) resolveAndDial(peer message.ProcessID) (*connection, error) {
	if r.topo == nil {
		return nil, tlerrors.NewTransportError(string(peer), nil)
	}
	addr, ok := r.topo.GetInetAddress(peer)
	if !ok {
		return nil, tlerrors.NewTransportError(string(peer), nil)
	}
	return r.dial(peer, addr.String())
}

// dial creates and registers an outbound, still-connecting connection to
// peer at addr, returning it immediately (the connect completes
// asynchronously, observed via onConnecting).
func (r *Reactor) dial(peer message.ProcessID, addr string) (*connection, error) {
	fd, err := dialTCP4(addr)
	if err != nil {
		return nil, err
	}
	conn := newConnection(fd, peer)
	r.byFD[fd] = conn
	r.byPeer[peer] = conn
	if err := r.poller.RegisterFD(fd, EventWrite, func(events IOEvents) { r.onConnecting(conn, events) }); err != nil {
		return nil, err
	}
	return conn, nil
}

// Send encodes msg as a single Frame and queues it for write on the
// connection bound to msg.Destination, satisfying bus.Sender so a
// Reactor can stand in wherever a Cluster's simulated network would
// otherwise go. Unlike the simulated network, there is no
// delay/loss/partition model here: the OS socket is the only source of
// truth for delivery.
//
// If no connection to msg.Destination exists yet, Send looks it up in the
// configured Topology and dials on demand (§4.C); without a Topology, an
// unconnected destination is a TransportError.
func (r *Reactor) Send(msg message.Message) error {
	conn, ok := r.byPeer[msg.Destination]
	if !ok {
		var err error
		conn, err = r.resolveAndDial(msg.Destination)
		if err != nil {
			return err
		}
	}
	body, err := json.Marshal(wireMessage{
		Source:        msg.Source,
		Destination:   msg.Destination,
		MessageType:   msg.MessageType.String(),
		Payload:       msg.Payload,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		return tlerrors.NewProtocolError(err.Error())
	}
	encoded, err := frame.Encode(frame.Frame{StreamID: 0, FrameType: 1, Payload: body})
	if err != nil {
		return err
	}
	wasEmpty := len(conn.outbox) == 0
	conn.queueWrite(encoded)
	if wasEmpty && !conn.writeInterest {
		conn.writeInterest = true
		if err := r.poller.ModifyFD(conn.fd, EventRead|EventWrite); err != nil {
			return tlerrors.NewTransportError(string(msg.Destination), err)
		}
	}
	return nil
}

// PollOnce blocks up to timeoutMs for readiness and dispatches all ready
// connections once; callers drive this from their own outer loop (the
// reactor has no built-in Run loop, matching §5's "only legitimate yield
// is returning from tick()" discipline extended to a real socket loop).
func (r *Reactor) PollOnce(timeoutMs int) (int, error) {
	return r.poller.PollIO(timeoutMs)
}

func (r *Reactor) onListenerReadable(events IOEvents) {
	for {
		fd, err := acceptOne(r.listenFD)
		if err != nil || fd < 0 {
			return
		}
		conn := newConnection(fd, "") // peer identity unknown until first frame
		r.byFD[fd] = conn
		if regErr := r.poller.RegisterFD(fd, EventRead, func(ev IOEvents) { r.onConnReadable(conn, ev) }); regErr != nil {
			r.cleanupConnection(conn, regErr)
		}
	}
}

func (r *Reactor) onConnecting(conn *connection, events IOEvents) {
	if events&EventError != 0 || events&EventHangup != 0 {
		r.cleanupConnection(conn, tlerrors.NewTransportError(string(conn.peer), nil))
		return
	}
	if err := connectError(conn.fd); err != nil {
		r.cleanupConnection(conn, tlerrors.NewTransportError(string(conn.peer), err))
		return
	}
	// Connect completed; switch this fd's callback to the steady-state
	// read/write handler. If Send queued bytes while the connect was still
	// in flight, keep write-interest so they flush as soon as possible
	// instead of waiting for a later Send to notice the outbox.
	conn.writeInterest = len(conn.outbox) > 0
	readEvents := EventRead
	if conn.writeInterest {
		readEvents |= EventWrite
	}
	_ = r.poller.UnregisterFD(conn.fd)
	_ = r.poller.RegisterFD(conn.fd, readEvents, func(ev IOEvents) { r.onConnReadable(conn, ev) })
	if conn.writeInterest {
		r.drainOutbox(conn)
	}
}

func (r *Reactor) onConnReadable(conn *connection, events IOEvents) {
	if events&EventWrite != 0 {
		r.drainOutbox(conn)
	}
	if events&(EventError|EventHangup) != 0 {
		r.cleanupConnection(conn, tlerrors.NewTransportError(string(conn.peer), nil))
		return
	}
	if events&EventRead == 0 {
		return
	}

	for i := 0; i < maxFramesPerRead; i++ {
		status, err := conn.reader.ReadOnce()
		if err != nil {
			r.cleanupConnection(conn, err)
			return
		}
		if status != frame.StatusFrameReady {
			if status == frame.StatusProgress {
				break
			}
		}
		drainedAny := false
		for {
			f, ok := conn.reader.Reassembler().Poll()
			if !ok {
				break
			}
			drainedAny = true
			var wm wireMessage
			if err := json.Unmarshal(f.Payload, &wm); err != nil {
				r.cleanupConnection(conn, tlerrors.NewProtocolError(err.Error()))
				return
			}
			r.bindPeerIfUnknown(conn, wm.Source)
			r.dispatcher.OnMessage(message.Message{
				Source:        wm.Source,
				Destination:   wm.Destination,
				MessageType:   message.Register(wm.MessageType),
				Payload:       wm.Payload,
				CorrelationID: wm.CorrelationID,
			})
		}
		if !drainedAny {
			break
		}
	}
}

// bindPeerIfUnknown learns conn's peer identity from the sender field of
// the first message an accepted (inbound) connection delivers, since an
// accepted socket has no peer identity until its far end speaks.
func (r *Reactor) bindPeerIfUnknown(conn *connection, source message.ProcessID) {
	if conn.peer != "" || source == "" {
		return
	}
	conn.peer = source
	r.byPeer[source] = conn
}

func (r *Reactor) drainOutbox(conn *connection) {
	drained, err := conn.flush()
	if err != nil {
		r.cleanupConnection(conn, err)
		return
	}
	if drained && conn.writeInterest {
		conn.writeInterest = false
		_ = r.poller.ModifyFD(conn.fd, EventRead)
	}
}

// cleanupConnection releases fd and peer-map entries and notifies the
// dispatcher, matching §5's requirement that sockets be released on
// every exit path including exceptional termination.
func (r *Reactor) cleanupConnection(conn *connection, cause error) {
	_ = r.poller.UnregisterFD(conn.fd)
	delete(r.byFD, conn.fd)
	if conn.peer != "" {
		delete(r.byPeer, conn.peer)
	}
	closeFD(conn.fd)
	if r.dispatcher != nil {
		r.dispatcher.OnPeerDisconnected(conn.peer, cause)
	}
}

// Close shuts down the listener and every open connection.
func (r *Reactor) Close() error {
	for _, conn := range r.byFD {
		r.cleanupConnection(conn, nil)
	}
	if r.listenFD >= 0 {
		_ = r.poller.UnregisterFD(r.listenFD)
		closeFD(r.listenFD)
	}
	return r.poller.Close()
}
