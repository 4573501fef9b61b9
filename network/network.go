// Package network implements the simulated network (§4.B): a
// deterministic, fault-injectable in-memory transport between ProcessIDs
// sharing an address space, and the primary driver of the whole
// framework's testability.
//
// The dispatch idiom — route by a key into a handler/queue structure,
// drain synchronously on tick — is the same one the teacher library's
// in-process gRPC channel (github.com/joeycumines/go-inprocgrpc) uses to
// turn an RPC call into direct delivery; this package generalizes it from
// one-shot call routing to a fault-injecting, delay-ordered delivery
// queue. The delivery queue itself is a direct generalization of the
// teacher event loop's timerHeap (see heap.go).
package network

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/joeycumines/tickloom/logging"
	"github.com/joeycumines/tickloom/message"
)

// Dispatcher receives delivered messages. bus.Bus satisfies this without
// network importing bus, avoiding an import cycle.
type Dispatcher interface {
	OnMessage(msg message.Message)
}

// FaultRecorder observes fault-injection and delivery decisions for
// diagnostics / the history log (§9's pure History event log). All
// methods are optional to implement meaningfully; a nil FaultRecorder
// disables recording entirely.
type FaultRecorder interface {
	RecordDelivery(tick uint64, msg message.Message)
	RecordDrop(tick uint64, msg message.Message, reason string)
	RecordPartitionFlip(tick uint64, active bool, groupA, groupB []message.ProcessID)
	RecordClog(tick uint64, source, destination message.ProcessID, untilTick uint64)
}

// PartitionMode selects the auto-partitioning strategy (§4.B).
type PartitionMode int

const (
	// PartitionModeNone disables auto-partitioning; only explicit
	// PartitionTwoWay/PartitionOneWay calls create partitions.
	PartitionModeNone PartitionMode = iota
	// PartitionModeHalfHalf splits known nodes into two equal halves.
	PartitionModeHalfHalf
	// PartitionModeRandom splits known nodes into two random groups.
	PartitionModeRandom
)

// AutoPartitionConfig configures the optional probabilistic
// auto-partitioning behavior (§4.B).
type AutoPartitionConfig struct {
	Mode            PartitionMode
	PartitionProb   float64
	UnpartitionProb float64
	Symmetric       bool
	MinStableTicks  uint64
}

// PathClogConfig configures the optional probabilistic path-clogging
// behavior (§4.B).
type PathClogConfig struct {
	Enabled       bool
	Prob          float64
	MeanTicks     float64
}

// Option configures a SimulatedNetwork at construction time.
type Option func(*SimulatedNetwork)

// WithSeed sets the PRNG seed; two networks built WithSeed(s) and driven
// with the same sequence of sends/ticks produce byte-identical delivery
// histories (§4.B Determinism, §8 invariant 1).
func WithSeed(seed int64) Option {
	return func(n *SimulatedNetwork) { n.rng = rand.New(rand.NewSource(seed)) }
}

// WithDefaultDelay sets the network-wide default effective delay used
// when a link has no explicit SetDelay override. Per §9's resolution of
// the zero-delay open question, the minimum effective delay is always 1
// tick regardless of this value.
func WithDefaultDelay(ticks uint64) Option {
	return func(n *SimulatedNetwork) { n.defaultDelay = ticks }
}

// WithDefaultPacketLoss sets the network-wide default loss probability.
func WithDefaultPacketLoss(p float64) Option {
	return func(n *SimulatedNetwork) { n.defaultLoss = p }
}

// WithAutoPartition enables probabilistic auto-partitioning.
func WithAutoPartition(cfg AutoPartitionConfig) Option {
	return func(n *SimulatedNetwork) { n.autoPartition = cfg }
}

// WithPathClog enables probabilistic path clogging.
func WithPathClog(cfg PathClogConfig) Option {
	return func(n *SimulatedNetwork) { n.pathClog = cfg }
}

// WithFaultRecorder attaches a FaultRecorder for diagnostics/history.
func WithFaultRecorder(r FaultRecorder) Option {
	return func(n *SimulatedNetwork) { n.recorder = r }
}

// WithLogger attaches a structured logger for fault-injection diagnostics
// (drops, partition flips, clogs). Defaults to logging.NoOp(), so a
// deterministic run never pays for logging it didn't ask for.
func WithLogger(logger logging.Logger) Option {
	return func(n *SimulatedNetwork) { n.logger = logger }
}

// SimulatedNetwork is a deterministic in-memory transport keyed by
// NetworkLink (§4.B). It owns its PRNG and its pending-delivery queue
// exclusively; no other component may observe the queue directly (§3).
type SimulatedNetwork struct {
	currentTick uint64
	sequence    uint64

	rng          *rand.Rand
	defaultDelay uint64
	defaultLoss  float64

	links map[linkKey]*linkState
	queue deliveryHeap

	known   []message.ProcessID
	knownOK map[message.ProcessID]bool

	autoPartition    AutoPartitionConfig
	partitionActive  bool
	lastFlipTick     uint64
	groupA, groupB   []message.ProcessID

	pathClog PathClogConfig

	dispatcher Dispatcher
	recorder   FaultRecorder
	logger     logging.Logger

	recentSeq map[linkKey]*ringBuffer[uint64]
}

// New constructs a SimulatedNetwork delivering to dispatcher; dispatcher
// may be nil and set later with SetDispatcher, for callers that must
// construct the network before the component that will receive its
// deliveries. Options configure the seed (defaulting to 0 if WithSeed is
// not passed, reproducing identically across runs regardless), default
// delay/loss, and optional auto-partition/clog behavior.
func New(dispatcher Dispatcher, opts ...Option) *SimulatedNetwork {
	n := &SimulatedNetwork{
		defaultDelay: 1,
		links:        make(map[linkKey]*linkState),
		knownOK:      make(map[message.ProcessID]bool),
		dispatcher:   dispatcher,
		logger:       logging.NoOp(),
		recentSeq:    make(map[linkKey]*ringBuffer[uint64]),
	}
	for _, o := range opts {
		o(n)
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(0))
	}
	return n
}

// SetDispatcher sets the Dispatcher that receives delivered messages. It
// exists to break the network/bus construction cycle: a Cluster builds
// the network before the bus that wraps it exists, then wires the bus in
// afterward with SetDispatcher.
func (n *SimulatedNetwork) SetDispatcher(dispatcher Dispatcher) {
	n.dispatcher = dispatcher
}

// RegisterProcess makes id known to the network for auto-partition/clog
// candidate selection. Cluster calls this once per node at construction.
func (n *SimulatedNetwork) RegisterProcess(id message.ProcessID) {
	if n.knownOK[id] {
		return
	}
	n.knownOK[id] = true
	n.known = append(n.known, id)
}

// CurrentTick returns the network's own view of the logical clock.
func (n *SimulatedNetwork) CurrentTick() uint64 { return n.currentTick }

func (n *SimulatedNetwork) linkFor(source, destination message.ProcessID) *linkState {
	key := n.keyFor(source, destination)
	ls, ok := n.links[key]
	if !ok {
		ls = &linkState{}
		n.links[key] = ls
	}
	return ls
}

// keyFor implements the "client-only" case from §4.B: if source is
// empty, the link degenerates to (destination, destination).
func (n *SimulatedNetwork) keyFor(source, destination message.ProcessID) linkKey {
	if source == "" {
		return linkKey{source: destination, destination: destination}
	}
	return linkKey{source: source, destination: destination}
}

// Send validates, fault-checks, and enqueues msg per the ordered pipeline
// in §4.B: partition set, matching fault rule, loss draw, clog status.
func (n *SimulatedNetwork) Send(msg message.Message) error {
	ls := n.linkFor(msg.Source, msg.Destination)

	if ls.partitioned {
		n.recordDrop(msg, "partitioned")
		return nil
	}

	for _, rule := range ls.rules {
		if rule.matches(msg.MessageType) {
			n.recordDrop(msg, "fault-rule")
			return nil
		}
	}

	loss := n.defaultLoss
	if ls.lossProb != nil {
		loss = *ls.lossProb
	}
	if loss > 0 && n.rng.Float64() < loss {
		n.recordDrop(msg, "packet-loss")
		return nil
	}

	delay := n.defaultDelay
	if ls.delay != nil {
		delay = *ls.delay
	}
	if delay < 1 {
		delay = 1 // §9: minimum effective delay of 1 tick, no same-tick delivery.
	}
	deliveryTick := n.currentTick + delay
	if ls.cloggedUntil > deliveryTick {
		deliveryTick = ls.cloggedUntil
	}

	n.sequence++
	seq := n.sequence
	heap.Push(&n.queue, queuedMessage{msg: msg, deliveryTick: deliveryTick, sequenceNumber: seq})

	key := n.keyFor(msg.Source, msg.Destination)
	rb, ok := n.recentSeq[key]
	if !ok {
		rb = newRingBuffer[uint64](64)
		n.recentSeq[key] = rb
	}
	rb.Push(seq)

	return nil
}

func (n *SimulatedNetwork) recordDrop(msg message.Message, reason string) {
	if n.recorder != nil {
		n.recorder.RecordDrop(n.currentTick, msg, reason)
	}
	if n.logger.IsEnabled(logging.LevelDebug) {
		n.logger.Log(logging.Entry{
			Level:    logging.LevelDebug,
			Category: "network",
			Tick:     n.currentTick,
			Message:  "dropped message: " + reason,
			Context: map[string]any{
				"source":      string(msg.Source),
				"destination": string(msg.Destination),
			},
		})
	}
}

// RecentSequenceNumbers returns the most recently enqueued sequence
// numbers for the (source, destination) link, oldest first, bounded to
// the last 64 — a diagnostic only, not load-bearing for delivery
// ordering (see heap.go for the real ordering guarantee).
func (n *SimulatedNetwork) RecentSequenceNumbers(source, destination message.ProcessID) []uint64 {
	rb, ok := n.recentSeq[n.keyFor(source, destination)]
	if !ok {
		return nil
	}
	return rb.Slice()
}

// Tick advances currentTick by one, applies optional auto-partition and
// path-clog probabilistic decisions, then drains all queued messages
// whose deliveryTick is now due, dispatching each in
// (deliveryTick, sequenceNumber) order (§4.B).
func (n *SimulatedNetwork) Tick() {
	n.currentTick++

	n.tickAutoPartition()
	n.tickPathClog()

	for n.queue.Len() > 0 && n.queue[0].deliveryTick <= n.currentTick {
		qm := heap.Pop(&n.queue).(queuedMessage)
		if n.recorder != nil {
			n.recorder.RecordDelivery(n.currentTick, qm.msg)
		}
		if n.dispatcher != nil {
			n.dispatcher.OnMessage(qm.msg)
		}
	}
}

// --- Fault injection API (§4.B) ---

// PartitionTwoWay partitions a<->b: messages sent in either direction are
// dropped until healed. Messages already queued before the partition are
// still delivered.
func (n *SimulatedNetwork) PartitionTwoWay(a, b message.ProcessID) {
	n.linkFor(a, b).partitioned = true
	n.linkFor(b, a).partitioned = true
}

// PartitionOneWay partitions source->destination only; the reverse
// direction continues to flow (§8 invariant 7).
func (n *SimulatedNetwork) PartitionOneWay(source, destination message.ProcessID) {
	n.linkFor(source, destination).partitioned = true
}

// HealPartition heals both directions between a and b.
func (n *SimulatedNetwork) HealPartition(a, b message.ProcessID) {
	n.linkFor(a, b).partitioned = false
	n.linkFor(b, a).partitioned = false
}

// HealAllPartitions heals every partitioned link in the network.
func (n *SimulatedNetwork) HealAllPartitions() {
	for _, ls := range n.links {
		ls.partitioned = false
	}
	n.partitionActive = false
}

// IsolateProcess partitions p from every other known process, both
// directions.
func (n *SimulatedNetwork) IsolateProcess(p message.ProcessID) {
	for _, other := range n.known {
		if other == p {
			continue
		}
		n.PartitionTwoWay(p, other)
	}
}

// ReconnectProcess heals every link touching p, both directions.
func (n *SimulatedNetwork) ReconnectProcess(p message.ProcessID) {
	for _, other := range n.known {
		if other == p {
			continue
		}
		n.HealPartition(p, other)
	}
}

// SetDelay overrides the effective delay for the (source, destination)
// link.
func (n *SimulatedNetwork) SetDelay(source, destination message.ProcessID, delay uint64) {
	d := delay
	n.linkFor(source, destination).delay = &d
}

// SetPacketLoss overrides the loss probability for the (source,
// destination) link.
func (n *SimulatedNetwork) SetPacketLoss(source, destination message.ProcessID, prob float64) {
	p := prob
	n.linkFor(source, destination).lossProb = &p
}

// DropMessagesOfType schedules every future message of mt on the link to
// be dropped.
func (n *SimulatedNetwork) DropMessagesOfType(source, destination message.ProcessID, mt message.Type) {
	ls := n.linkFor(source, destination)
	ls.rules = append(ls.rules, &faultRule{messageType: mt, dropAll: true})
}

// DropNthMessageOfType schedules only the nth (1-based) future message of
// mt on the link to be dropped.
func (n *SimulatedNetwork) DropNthMessageOfType(source, destination message.ProcessID, mt message.Type, nth uint64) {
	ls := n.linkFor(source, destination)
	ls.rules = append(ls.rules, &faultRule{messageType: mt, dropNth: nth})
}

// --- auto-partitioning (§4.B) ---

func (n *SimulatedNetwork) tickAutoPartition() {
	if n.autoPartition.Mode == PartitionModeNone || len(n.known) < 2 {
		return
	}
	if n.currentTick-n.lastFlipTick < n.autoPartition.MinStableTicks {
		return
	}
	if !n.partitionActive {
		if n.rng.Float64() >= n.autoPartition.PartitionProb {
			return
		}
		n.groupA, n.groupB = n.splitGroups()
		n.applyGroupCut(n.groupA, n.groupB, n.autoPartition.Symmetric)
		n.partitionActive = true
		n.lastFlipTick = n.currentTick
		if n.recorder != nil {
			n.recorder.RecordPartitionFlip(n.currentTick, true, n.groupA, n.groupB)
		}
		n.logger.Log(logging.Entry{Level: logging.LevelInfo, Category: "network", Tick: n.currentTick, Message: "auto-partition engaged"})
		return
	}
	if n.rng.Float64() < n.autoPartition.UnpartitionProb {
		n.HealAllPartitions()
		n.lastFlipTick = n.currentTick
		if n.recorder != nil {
			n.recorder.RecordPartitionFlip(n.currentTick, false, nil, nil)
		}
		n.logger.Log(logging.Entry{Level: logging.LevelInfo, Category: "network", Tick: n.currentTick, Message: "auto-partition healed"})
	}
}

func (n *SimulatedNetwork) splitGroups() ([]message.ProcessID, []message.ProcessID) {
	ordered := make([]message.ProcessID, len(n.known))
	copy(ordered, n.known)
	if n.autoPartition.Mode == PartitionModeRandom {
		n.rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	}
	mid := len(ordered) / 2
	a := append([]message.ProcessID(nil), ordered[:mid]...)
	b := append([]message.ProcessID(nil), ordered[mid:]...)
	return a, b
}

func (n *SimulatedNetwork) applyGroupCut(groupA, groupB []message.ProcessID, symmetric bool) {
	for _, a := range groupA {
		for _, b := range groupB {
			n.PartitionOneWay(a, b)
			if symmetric {
				n.PartitionOneWay(b, a)
			}
		}
	}
}

// --- path clogging (§4.B) ---

func (n *SimulatedNetwork) tickPathClog() {
	if !n.pathClog.Enabled || len(n.known) < 2 {
		return
	}
	if n.rng.Float64() >= n.pathClog.Prob {
		return
	}
	srcIdx := n.rng.Intn(len(n.known))
	dstIdx := n.rng.Intn(len(n.known))
	if srcIdx == dstIdx {
		dstIdx = (dstIdx + 1) % len(n.known)
	}
	source, destination := n.known[srcIdx], n.known[dstIdx]

	mean := n.pathClog.MeanTicks
	if mean <= 0 {
		mean = 1
	}
	u := n.rng.Float64()
	delay := uint64(math.Ceil(-mean * math.Log(1-u)))
	if delay < 1 {
		delay = 1
	}
	until := n.currentTick + delay
	ls := n.linkFor(source, destination)
	if until > ls.cloggedUntil {
		ls.cloggedUntil = until
	}
	if n.recorder != nil {
		n.recorder.RecordClog(n.currentTick, source, destination, until)
	}
	n.logger.Log(logging.Entry{
		Level:    logging.LevelDebug,
		Category: "network",
		Tick:     n.currentTick,
		Message:  "path clogged",
		Context:  map[string]any{"source": string(source), "destination": string(destination), "until": until},
	})
}
