// Package process implements the Process base (§4.F): the handler table,
// correlation-id generation, and broadcast-to-quorum helper shared by
// every replica and client in a cluster.
//
// The handler-table-plus-tick-hook shape is modeled on the teacher
// library's event loop Loop, which also separates "dispatch an incoming
// event to a registered callback" from "run my own per-tick bookkeeping"
// (github.com/joeycumines/go-eventloop, loop.go); here onTick plays the
// role the teacher's tick phase plays for timers, and onMessageReceived
// plays the role its ingress dispatch plays for queued tasks.
package process

import (
	"strconv"

	"github.com/joeycumines/tickloom/bus"
	"github.com/joeycumines/tickloom/future"
	"github.com/joeycumines/tickloom/logging"
	"github.com/joeycumines/tickloom/message"
)

// Clock is the minimal read-only capability a Process needs from its
// Cluster-owned LogicalClock (§3).
type Clock interface {
	Now() uint64
}

// Handler processes one inbound message of a registered message.Type. It
// is invoked only for messages whose correlation id is not already
// tracked in the process's WaitingList (§4.F).
type Handler func(msg message.Message)

// Sender is the minimal outbound capability a Process needs; bus.Bus
// satisfies it directly.
type Sender interface {
	Send(msg message.Message) error
}

// MessageBuilder constructs an outbound message addressed to peer,
// stamped with correlationID, for use with BroadcastToAllReplicas.
type MessageBuilder func(peer message.ProcessID, correlationID string) message.Message

// Process is the embeddable base every replica and client builds on. It
// owns a WaitingList, a correlation-id counter, and a handler table;
// everything else (storage, domain state) is supplied by the embedder.
type Process struct {
	id      message.ProcessID
	peers   []message.ProcessID // defensive copy, excludes self
	bus     Sender
	clock   Clock
	waiting *future.WaitingList

	handlers map[message.Type]Handler

	seq uint64

	logger logging.Logger

	// OnTick, if set, is invoked once per Tick before the waiting list is
	// swept for expiry. It is the embedder's hook for domain-specific
	// per-tick work (§4.F).
	OnTick func()
}

// Option configures a Process at construction time.
type Option func(*Process)

// WithLogger attaches a structured logger for dispatch diagnostics
// (dropped messages, send failures). Defaults to logging.NoOp().
func WithLogger(logger logging.Logger) Option {
	return func(p *Process) { p.logger = logger }
}

// New constructs a Process. peers is defensively copied so later mutation
// of the caller's slice cannot perturb runtime membership (§4.F). Self is
// excluded from peers automatically if present.
func New(id message.ProcessID, peers []message.ProcessID, b Sender, clock Clock, timeoutTicks uint64, opts ...Option) *Process {
	cp := make([]message.ProcessID, 0, len(peers))
	for _, p := range peers {
		if p == id {
			continue
		}
		cp = append(cp, p)
	}
	p := &Process{
		id:       id,
		peers:    cp,
		bus:      b,
		clock:    clock,
		waiting:  future.NewWaitingList(timeoutTicks),
		handlers: make(map[message.Type]Handler),
		logger:   logging.NoOp(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ID returns this process's ProcessID.
func (p *Process) ID() message.ProcessID { return p.id }

// Peers returns a copy of the peer list (excluding self).
func (p *Process) Peers() []message.ProcessID {
	cp := make([]message.ProcessID, len(p.peers))
	copy(cp, p.peers)
	return cp
}

// RegisterHandler installs handler for every message of type mt. Install
// calls are expected only during setup, before the scheduler starts
// ticking (§5).
func (p *Process) RegisterHandler(mt message.Type, handler Handler) {
	p.handlers[mt] = handler
}

// nextCorrelationID returns a correlation id unique within this process's
// lifetime: "<processID>-<monotonic sequence>".
func (p *Process) nextCorrelationID() string {
	p.seq++
	return string(p.id) + "-" + strconv.FormatUint(p.seq, 10)
}

// OnMessageReceived implements bus.Handler (§4.F). If msg's correlation
// id is tracked in the waiting list, it is routed there; otherwise the
// handler registered for msg.MessageType runs, if any. Unknown message
// types and unmatched correlation ids are dropped silently.
func (p *Process) OnMessageReceived(msg message.Message) {
	if msg.CorrelationID != "" && p.waiting.Contains(msg.CorrelationID) {
		p.waiting.HandleResponse(msg.CorrelationID, msg, string(msg.Source))
		return
	}
	if h, ok := p.handlers[msg.MessageType]; ok {
		h(msg)
		return
	}
	p.logger.Log(logging.Entry{
		Level:         logging.LevelDebug,
		Category:      "process",
		Tick:          p.clock.Now(),
		ProcessID:     string(p.id),
		CorrelationID: msg.CorrelationID,
		Message:       "dropped message: no handler for type " + msg.MessageType.String(),
	})
}

// BroadcastToAllReplicas sends a message to every peer (excluding self,
// per §9), each stamped with a fresh correlation id registered against
// aggregator in the waiting list. Returns the set of correlation ids
// generated, in peer order.
func (p *Process) BroadcastToAllReplicas(aggregator future.ResponseCallback, build MessageBuilder) ([]string, error) {
	ids := make([]string, 0, len(p.peers))
	now := p.clock.Now()
	for _, peer := range p.peers {
		cid := p.nextCorrelationID()
		if err := p.waiting.Add(cid, aggregator, now); err != nil {
			return ids, err
		}
		msg := build(peer, cid)
		if err := p.bus.Send(msg); err != nil {
			p.logger.Log(logging.Entry{
				Level:         logging.LevelWarn,
				Category:      "process",
				Tick:          now,
				ProcessID:     string(p.id),
				CorrelationID: cid,
				Message:       "broadcast send failed",
				Err:           err,
			})
			return ids, err
		}
		ids = append(ids, cid)
	}
	return ids, nil
}

// Send forwards msg directly to the bus, bypassing the waiting list. Use
// this for direct replies (e.g. replying to a request with an ack);
// BroadcastToAllReplicas is for fan-out requests that expect aggregated
// responses.
func (p *Process) Send(msg message.Message) error {
	return p.bus.Send(msg)
}

// Tick runs OnTick (if set), then sweeps the waiting list for expired
// entries (§4.F). Must never block.
func (p *Process) Tick() {
	if p.OnTick != nil {
		p.OnTick()
	}
	p.waiting.Tick(p.clock.Now())
}

// WaitingListLen exposes the waiting list's size for test assertions.
func (p *Process) WaitingListLen() int { return p.waiting.Len() }

var _ bus.Handler = (*Process)(nil)
