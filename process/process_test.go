package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/tickloom/future"
	"github.com/joeycumines/tickloom/message"
)

type fakeClock struct{ tick uint64 }

func (c *fakeClock) Now() uint64 { return c.tick }

type fakeSender struct {
	sent []message.Message
}

func (s *fakeSender) Send(msg message.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

var pingType = message.Register("process-test-ping")
var ackType = message.Register("process-test-ack")

func TestProcess_PeersExcludesSelfAndIsDefensivelyCopied(t *testing.T) {
	peers := []message.ProcessID{"a", "b", "c"}
	clock := &fakeClock{}
	p := New("b", peers, &fakeSender{}, clock, 5)

	peers[0] = "mutated"
	got := p.Peers()
	assert.ElementsMatch(t, []message.ProcessID{"a", "c"}, got)
}

func TestProcess_OnMessageReceived_UnknownTypeDropsSilently(t *testing.T) {
	clock := &fakeClock{}
	p := New("a", nil, &fakeSender{}, clock, 5)
	assert.NotPanics(t, func() {
		p.OnMessageReceived(message.Message{MessageType: pingType})
	})
}

func TestProcess_OnMessageReceived_RoutesRegisteredHandler(t *testing.T) {
	clock := &fakeClock{}
	p := New("a", nil, &fakeSender{}, clock, 5)
	var received message.Message
	p.RegisterHandler(pingType, func(msg message.Message) { received = msg })

	p.OnMessageReceived(message.Message{MessageType: pingType, CorrelationID: "x"})
	assert.Equal(t, pingType, received.MessageType)
}

// recordingCallback is a minimal future.ResponseCallback for tests.
type recordingCallback struct {
	responses []string
	errs      []error
}

func (r *recordingCallback) OnResponse(response any, fromProcessID string) bool {
	r.responses = append(r.responses, fromProcessID)
	return len(r.responses) >= 2
}

func (r *recordingCallback) OnError(err error) { r.errs = append(r.errs, err) }

func TestProcess_OnMessageReceived_RoutesTrackedCorrelationIDToWaitingList(t *testing.T) {
	sender := &fakeSender{}
	clock := &fakeClock{}
	p := New("a", []message.ProcessID{"b", "c"}, sender, clock, 5)

	cb := &recordingCallback{}
	ids, err := p.BroadcastToAllReplicas(cb, func(peer message.ProcessID, cid string) message.Message {
		return message.Message{Source: "a", Destination: peer, MessageType: ackType, CorrelationID: cid}
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, 2, p.WaitingListLen())

	p.OnMessageReceived(message.Message{Source: "b", MessageType: ackType, CorrelationID: ids[0]})
	assert.Equal(t, 2, p.WaitingListLen(), "callback not done yet, so the answered entry is kept")

	p.OnMessageReceived(message.Message{Source: "c", MessageType: ackType, CorrelationID: ids[1]})
	assert.Equal(t, 1, p.WaitingListLen(), "only the entry whose response completed the callback is removed")
	assert.Equal(t, []string{"b", "c"}, cb.responses)
}

func TestProcess_BroadcastToAllReplicas_GeneratesUniqueCorrelationIDs(t *testing.T) {
	sender := &fakeSender{}
	clock := &fakeClock{}
	p := New("a", []message.ProcessID{"b", "c", "d"}, sender, clock, 5)

	cb := future.NewQuorumAggregator[message.Message](2, 3, func(message.Message) bool { return true })
	ids, err := p.BroadcastToAllReplicas(cb, func(peer message.ProcessID, cid string) message.Message {
		return message.Message{Source: "a", Destination: peer, CorrelationID: cid}
	})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "correlation id reused: %s", id)
		seen[id] = true
	}
}

func TestProcess_Tick_RunsOnTickThenExpiresWaitingList(t *testing.T) {
	sender := &fakeSender{}
	clock := &fakeClock{}
	p := New("a", []message.ProcessID{"b"}, sender, clock, 2)

	var onTickCalled bool
	p.OnTick = func() { onTickCalled = true }

	cb := &recordingCallback{}
	_, err := p.BroadcastToAllReplicas(cb, func(peer message.ProcessID, cid string) message.Message {
		return message.Message{Source: "a", Destination: peer, CorrelationID: cid}
	})
	require.NoError(t, err)
	require.Equal(t, 1, p.WaitingListLen())

	clock.tick = 3
	p.Tick()

	assert.True(t, onTickCalled)
	assert.Equal(t, 0, p.WaitingListLen())
	require.Len(t, cb.errs, 1)
}
