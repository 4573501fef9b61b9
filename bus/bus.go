// Package bus implements the message bus (§4.D): it routes messages
// delivered by the network layer to per-ProcessID handlers, and forwards
// outbound sends to the network. Routing here is modeled directly on the
// teacher library's in-process RPC channel
// (github.com/joeycumines/go-inprocgrpc), which dispatches by a
// string-keyed handler map synchronously on a single loop; the bus
// generalizes that from gRPC method names to tickloom ProcessIDs.
package bus

import (
	"github.com/joeycumines/tickloom/logging"
	"github.com/joeycumines/tickloom/message"
)

// Handler receives messages destined for one ProcessID.
type Handler interface {
	OnMessageReceived(msg message.Message)
}

// Sender is the minimal network capability the bus needs: enqueue a
// message for eventual delivery. Both the simulated network and the real
// reactor network satisfy it.
type Sender interface {
	Send(msg message.Message) error
}

// Bus routes delivered messages from the network layer to registered
// handlers. It never suspends or buffers: delivery is synchronous and
// single-threaded (§4.D, §5).
type Bus struct {
	network  Sender
	handlers map[message.ProcessID]Handler
	dropped  int
	logger   logging.Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger attaches a structured logger used to report
// no-handler-registered drops. Defaults to logging.NoOp().
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New returns a Bus that forwards outbound sends to network.
func New(network Sender, opts ...Option) *Bus {
	b := &Bus{
		network:  network,
		handlers: make(map[message.ProcessID]Handler),
		logger:   logging.NoOp(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// RegisterHandler installs handler for processID. One handler per
// ProcessID; re-registration replaces the previous handler.
func (b *Bus) RegisterHandler(processID message.ProcessID, handler Handler) {
	b.handlers[processID] = handler
}

// OnMessage is invoked by the network layer when a message is delivered.
// It dispatches synchronously to the handler registered for
// msg.Destination; if none is registered the message is dropped
// (drop-and-log per §9's resolved open question — observable only via
// DroppedCount in tests).
func (b *Bus) OnMessage(msg message.Message) {
	h, ok := b.handlers[msg.Destination]
	if !ok {
		b.dropped++
		b.logger.Log(logging.Entry{
			Level:    logging.LevelWarn,
			Category: "bus",
			Message:  "dropped message: no handler registered for destination " + string(msg.Destination),
		})
		return
	}
	h.OnMessageReceived(msg)
}

// Send forwards msg to the underlying network.
func (b *Bus) Send(msg message.Message) error {
	return b.network.Send(msg)
}

// Tick does no inherent work; it exists so the scheduler can treat every
// component uniformly (§4.D).
func (b *Bus) Tick() {}

// DroppedCount returns the number of messages dropped because no handler
// was registered for their destination, for test observability.
func (b *Bus) DroppedCount() int { return b.dropped }
