package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/tickloom/message"
)

// recordingDispatcher collects delivered messages in the order Tick
// dispatches them, for assertions against the network's ordering
// guarantee.
type recordingDispatcher struct {
	delivered []message.Message
}

func (d *recordingDispatcher) OnMessage(msg message.Message) {
	d.delivered = append(d.delivered, msg)
}

var pingType = message.Register("network-test-ping")

func newTestMessage(source, destination message.ProcessID, correlationID string) message.Message {
	return message.Message{
		Source:        source,
		Destination:   destination,
		PeerType:      message.PeerServer,
		MessageType:   pingType,
		CorrelationID: correlationID,
	}
}

// TestSimulatedNetwork_DeterministicReplay is the S3 scenario: two
// identically-seeded networks driven through the same sequence of
// sends/ticks produce byte-identical delivery histories, including under
// randomized loss and auto-partitioning.
func TestSimulatedNetwork_DeterministicReplay(t *testing.T) {
	build := func() *recordingDispatcher {
		d := &recordingDispatcher{}
		n := New(d,
			WithSeed(42),
			WithDefaultDelay(2),
			WithDefaultPacketLoss(0.3),
			WithAutoPartition(AutoPartitionConfig{
				Mode:            PartitionModeRandom,
				PartitionProb:   0.2,
				UnpartitionProb: 0.5,
				MinStableTicks:  2,
			}),
		)
		for _, id := range []message.ProcessID{"a", "b", "c", "d"} {
			n.RegisterProcess(id)
		}
		for tick := 0; tick < 20; tick++ {
			for i, src := range []message.ProcessID{"a", "b", "c", "d"} {
				dst := []message.ProcessID{"b", "c", "d", "a"}[i]
				require.NoError(t, n.Send(newTestMessage(src, dst, "cid")))
			}
			n.Tick()
		}
		return d
	}

	first := build()
	second := build()
	require.Equal(t, len(first.delivered), len(second.delivered))
	for i := range first.delivered {
		assert.Equal(t, first.delivered[i], second.delivered[i])
	}
}

// TestSimulatedNetwork_PartitionBlocksDelivery is the S4 scenario: once a
// two-way partition is established between two nodes, sends between them
// are dropped, not merely delayed.
func TestSimulatedNetwork_PartitionBlocksDelivery(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d, WithDefaultDelay(1))
	n.RegisterProcess("a")
	n.RegisterProcess("b")

	n.PartitionTwoWay("a", "b")
	require.NoError(t, n.Send(newTestMessage("a", "b", "1")))
	require.NoError(t, n.Send(newTestMessage("b", "a", "2")))

	for i := 0; i < 5; i++ {
		n.Tick()
	}
	assert.Empty(t, d.delivered)

	n.HealPartition("a", "b")
	require.NoError(t, n.Send(newTestMessage("a", "b", "3")))
	n.Tick()
	require.Len(t, d.delivered, 1)
	assert.Equal(t, "3", d.delivered[0].CorrelationID)
}

// TestSimulatedNetwork_OneWayPartitionIsAsymmetric checks §8 invariant 7:
// a one-way partition blocks only the configured direction.
func TestSimulatedNetwork_OneWayPartitionIsAsymmetric(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d, WithDefaultDelay(1))
	n.RegisterProcess("a")
	n.RegisterProcess("b")

	n.PartitionOneWay("a", "b")
	require.NoError(t, n.Send(newTestMessage("a", "b", "blocked")))
	require.NoError(t, n.Send(newTestMessage("b", "a", "allowed")))

	n.Tick()
	require.Len(t, d.delivered, 1)
	assert.Equal(t, "allowed", d.delivered[0].CorrelationID)
}

// TestSimulatedNetwork_FIFOPerLink asserts that messages sent on the same
// link are delivered in send order when delays are equal, per the
// (deliveryTick, sequenceNumber) ordering guarantee.
func TestSimulatedNetwork_FIFOPerLink(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d, WithDefaultDelay(3))
	n.RegisterProcess("a")
	n.RegisterProcess("b")

	for i := 0; i < 10; i++ {
		require.NoError(t, n.Send(newTestMessage("a", "b", string(rune('0'+i)))))
	}
	for i := 0; i < 5; i++ {
		n.Tick()
	}

	require.Len(t, d.delivered, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, string(rune('0'+i)), d.delivered[i].CorrelationID)
	}
}

// TestSimulatedNetwork_DropNthMessageOfType exercises the scheduled
// drop-Nth-of-type fault rule.
func TestSimulatedNetwork_DropNthMessageOfType(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d, WithDefaultDelay(1))
	n.RegisterProcess("a")
	n.RegisterProcess("b")

	n.DropNthMessageOfType("a", "b", pingType, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Send(newTestMessage("a", "b", string(rune('0'+i)))))
	}
	n.Tick()

	require.Len(t, d.delivered, 2)
	assert.Equal(t, "0", d.delivered[0].CorrelationID)
	assert.Equal(t, "2", d.delivered[1].CorrelationID)
}

// TestSimulatedNetwork_MinimumEffectiveDelayIsOneTick checks §9's
// resolution of the zero-delay open question: even with an explicit
// SetDelay(0), a message never arrives in the same tick it was sent.
func TestSimulatedNetwork_MinimumEffectiveDelayIsOneTick(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d)
	n.RegisterProcess("a")
	n.RegisterProcess("b")
	n.SetDelay("a", "b", 0)

	require.NoError(t, n.Send(newTestMessage("a", "b", "x")))
	assert.Empty(t, d.delivered)
	n.Tick()
	require.Len(t, d.delivered, 1)
}

// TestSimulatedNetwork_ClientOnlySourceDegeneratesLink covers the
// "absent source" case: an empty Source routes through link
// (destination, destination), so per-destination fault configuration
// still applies to inbound client traffic.
func TestSimulatedNetwork_ClientOnlySourceDegeneratesLink(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(d, WithDefaultDelay(1))
	n.RegisterProcess("server")

	n.PartitionTwoWay("server", "server")
	require.NoError(t, n.Send(newTestMessage("", "server", "from-client")))
	n.Tick()
	assert.Empty(t, d.delivered)
}
