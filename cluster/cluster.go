// Package cluster implements the tick scheduler (§4.G): the deterministic
// heartbeat driving every simulated-mode test, owning the node lists, the
// per-process logical clocks, and the shared simulated network and
// message bus.
//
// The fixed per-tick traversal order here — advance clocks, drain the
// network once, then visit client nodes before server nodes in
// insertion order — is the same discipline the teacher event loop
// applies to its own phases (timers, then external ingress, then
// microtasks, all in a fixed order every iteration); Cluster.Tick
// generalizes that to the cluster's {network, bus, process, storage}
// component set (github.com/joeycumines/go-eventloop, loop.go).
package cluster

import (
	"github.com/joeycumines/tickloom/bus"
	"github.com/joeycumines/tickloom/future"
	"github.com/joeycumines/tickloom/history"
	"github.com/joeycumines/tickloom/logging"
	"github.com/joeycumines/tickloom/message"
	"github.com/joeycumines/tickloom/network"
	"github.com/joeycumines/tickloom/process"
	"github.com/joeycumines/tickloom/storage"
	"github.com/joeycumines/tickloom/tlerrors"
)

type clientNode struct {
	id     message.ProcessID
	client *process.Process
}

type serverNode struct {
	id      message.ProcessID
	proc    *process.Process
	storage *storage.Storage
}

// Cluster owns all nodes, clocks, the shared simulated network, and the
// shared message bus, in simulated mode (§4.G, §3 Ownership). It is the
// sole entry point tests drive: build nodes, then call Tick/TickUntil.
type Cluster struct {
	seed        int64
	currentTick uint64

	network *network.SimulatedNetwork
	bus     *bus.Bus
	history *history.Log
	logger  logging.Logger

	clocks map[message.ProcessID]*logicalClock

	clientNodes []*clientNode
	serverNodes []*serverNode
}

// Option configures a Cluster at construction time.
type Option func(*Cluster, *[]network.Option)

// WithSeed fixes the shared network's PRNG seed (§8 invariant 1).
func WithSeed(seed int64) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		c.seed = seed
		*netOpts = append(*netOpts, network.WithSeed(seed))
	}
}

// WithDefaultDelay sets the network-wide default delay.
func WithDefaultDelay(ticks uint64) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		*netOpts = append(*netOpts, network.WithDefaultDelay(ticks))
	}
}

// WithDefaultPacketLoss sets the network-wide default loss probability.
func WithDefaultPacketLoss(p float64) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		*netOpts = append(*netOpts, network.WithDefaultPacketLoss(p))
	}
}

// WithAutoPartition enables probabilistic auto-partitioning.
func WithAutoPartition(cfg network.AutoPartitionConfig) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		*netOpts = append(*netOpts, network.WithAutoPartition(cfg))
	}
}

// WithPathClog enables probabilistic path clogging.
func WithPathClog(cfg network.PathClogConfig) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		*netOpts = append(*netOpts, network.WithPathClog(cfg))
	}
}

// WithLogger attaches a structured logger shared by the Cluster, its
// SimulatedNetwork, and every Process it constructs. Defaults to
// logging.NoOp(), so a deterministic run never pays for logging it didn't
// ask for (SPEC_FULL.md "Logging").
func WithLogger(logger logging.Logger) Option {
	return func(c *Cluster, netOpts *[]network.Option) {
		c.logger = logger
		*netOpts = append(*netOpts, network.WithLogger(logger))
	}
}

// New constructs an empty Cluster in simulated mode: a shared
// SimulatedNetwork and a shared Bus, wired together (§3 Ownership).
func New(opts ...Option) *Cluster {
	c := &Cluster{
		history: history.New(),
		logger:  logging.NoOp(),
		clocks:  make(map[message.ProcessID]*logicalClock),
	}
	var netOpts []network.Option
	for _, o := range opts {
		o(c, &netOpts)
	}
	netOpts = append(netOpts, network.WithFaultRecorder(c.history))

	c.network = network.New(nil, netOpts...)
	c.bus = bus.New(c.network, bus.WithLogger(c.logger))
	c.network.SetDispatcher(c.bus)
	return c
}

func (c *Cluster) clockFor(id message.ProcessID) *logicalClock {
	clk, ok := c.clocks[id]
	if !ok {
		clk = &logicalClock{}
		c.clocks[id] = clk
	}
	return clk
}

// AddServerNode creates a server Process and its own Storage, registers
// both with the shared network/bus, and returns them so callers can
// register message handlers on the Process before ticking begins.
func (c *Cluster) AddServerNode(id message.ProcessID, peers []message.ProcessID, timeoutTicks uint64) (*process.Process, *storage.Storage, error) {
	st, err := storage.Open()
	if err != nil {
		return nil, nil, err
	}
	clk := c.clockFor(id)
	proc := process.New(id, peers, c.bus, clk, timeoutTicks, process.WithLogger(c.logger))
	c.bus.RegisterHandler(id, proc)
	c.network.RegisterProcess(id)
	c.serverNodes = append(c.serverNodes, &serverNode{id: id, proc: proc, storage: st})
	return proc, st, nil
}

// AddClientNode creates a client Process (no Storage) and registers it
// with the shared network/bus.
func (c *Cluster) AddClientNode(id message.ProcessID, peers []message.ProcessID, timeoutTicks uint64) *process.Process {
	clk := c.clockFor(id)
	proc := process.New(id, peers, c.bus, clk, timeoutTicks, process.WithLogger(c.logger))
	c.bus.RegisterHandler(id, proc)
	c.network.RegisterProcess(id)
	c.clientNodes = append(c.clientNodes, &clientNode{id: id, client: proc})
	return proc
}

// Tick runs one logical tick (§4.G): every known process's clock advances
// by 1; the shared network drains due deliveries (dispatching through
// the shared bus to process handlers) exactly once; then every client
// node ticks in insertion order, followed by every server node
// (process, then storage) in insertion order.
func (c *Cluster) Tick() {
	c.currentTick++
	for _, clk := range c.clocks {
		clk.advance()
	}

	c.guard("network", c.network.Tick)
	c.guard("bus", c.bus.Tick)

	for _, cn := range c.clientNodes {
		cn := cn
		c.guard("client:"+string(cn.id), cn.client.Tick)
	}
	for _, sn := range c.serverNodes {
		sn := sn
		c.guard("server:"+string(sn.id), sn.proc.Tick)
		c.guard("storage:"+string(sn.id), sn.storage.Tick)
	}
}

// guard runs fn, recovering any panic so one misbehaving component cannot
// abort the rest of the tick (§7: "invariant violations ... escalated as
// exceptions caught at the scheduler boundary and logged; the scheduler
// continues to tick remaining components"). component identifies the
// failing boundary in the log entry.
func (c *Cluster) guard(component string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Log(logging.Entry{
				Level:    logging.LevelError,
				Category: "cluster",
				Tick:     c.currentTick,
				Message:  "component panicked during tick: " + component,
				Context:  map[string]any{"component": component, "panic": r},
			})
		}
	}()
	fn()
}

// CurrentTick returns the cluster's own tick counter.
func (c *Cluster) CurrentTick() uint64 { return c.currentTick }

// TickUntil ticks repeatedly until predicate reports true, or maxTicks
// ticks have elapsed, whichever comes first. It returns a StateError if
// predicate never became true.
func (c *Cluster) TickUntil(predicate func() bool, maxTicks int) error {
	if predicate() {
		return nil
	}
	for i := 0; i < maxTicks; i++ {
		c.Tick()
		if predicate() {
			return nil
		}
	}
	return tlerrors.NewStateError("Cluster.TickUntil", "predicate not satisfied within maxTicks")
}

// --- fault API passthrough (§4.G) ---

func (c *Cluster) PartitionTwoWay(a, b message.ProcessID) { c.network.PartitionTwoWay(a, b) }

func (c *Cluster) PartitionOneWay(source, destination message.ProcessID) {
	c.network.PartitionOneWay(source, destination)
}

func (c *Cluster) HealPartition(a, b message.ProcessID) { c.network.HealPartition(a, b) }

func (c *Cluster) HealAllPartitions() { c.network.HealAllPartitions() }

func (c *Cluster) SetDelay(source, destination message.ProcessID, delay uint64) {
	c.network.SetDelay(source, destination, delay)
}

func (c *Cluster) SetPacketLoss(source, destination message.ProcessID, prob float64) {
	c.network.SetPacketLoss(source, destination, prob)
}

func (c *Cluster) DropMessagesOfType(source, destination message.ProcessID, mt message.Type) {
	c.network.DropMessagesOfType(source, destination, mt)
}

func (c *Cluster) DropNthMessageOfType(source, destination message.ProcessID, mt message.Type, n uint64) {
	c.network.DropNthMessageOfType(source, destination, mt, n)
}

func (c *Cluster) IsolateProcess(id message.ProcessID) { c.network.IsolateProcess(id) }

func (c *Cluster) ReconnectProcess(id message.ProcessID) { c.network.ReconnectProcess(id) }

// SetTimeForProcess overrides id's logical clock to t, for test-induced
// skew (§3).
func (c *Cluster) SetTimeForProcess(id message.ProcessID, t uint64) {
	c.clockFor(id).set(t)
}

// AdvanceTimeForProcess advances id's logical clock by delta beyond the
// normal per-tick increment.
func (c *Cluster) AdvanceTimeForProcess(id message.ProcessID, delta uint64) {
	c.clockFor(id).advanceBy(delta)
}

// GetStorageValue enqueues a Get against the named server node's
// Storage, returning an error immediately if id is not a known server
// node. The returned future resolves on the next Tick, like any other
// Storage operation.
func (c *Cluster) GetStorageValue(id message.ProcessID, key string) (*future.PendingFuture[[]byte], error) {
	for _, sn := range c.serverNodes {
		if sn.id == id {
			return sn.storage.Get(key), nil
		}
	}
	return nil, tlerrors.NewStateError("Cluster.GetStorageValue", "unknown server node: "+string(id))
}

// History returns the pure event log recording every delivery, drop,
// partition flip, and clog decision across the cluster's lifetime —
// the "record" half of the record/verify split in §8's redesign notes.
func (c *Cluster) History() *history.Log { return c.history }

// Seed returns the PRNG seed the shared network was constructed with.
func (c *Cluster) Seed() int64 { return c.seed }
