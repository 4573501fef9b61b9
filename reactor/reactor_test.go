//go:build linux || darwin

package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/tickloom/message"
	"github.com/joeycumines/tickloom/topology"
)

type recordingDispatcher struct {
	messages     []message.Message
	disconnected []message.ProcessID
}

func (d *recordingDispatcher) OnMessage(msg message.Message) {
	d.messages = append(d.messages, msg)
}

func (d *recordingDispatcher) OnPeerDisconnected(peer message.ProcessID, err error) {
	d.disconnected = append(d.disconnected, peer)
}

// pumpUntil drives both reactors' PollOnce in lockstep until cond returns
// true or the deadline elapses, since real sockets require an actual OS
// event loop turn (unlike the simulated network's Tick()).
func pumpUntil(t *testing.T, reactors []*Reactor, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		for _, r := range reactors {
			_, _ = r.PollOnce(10)
		}
	}
	t.Fatal("pumpUntil: condition never became true")
}

var reactorPingType = message.Register("reactor-test-ping")

func TestReactor_ConnectSendReceive_DeliversMessageAcrossLoopback(t *testing.T) {
	serverDispatch := &recordingDispatcher{}
	server, err := New(serverDispatch)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Listen("127.0.0.1:18471"))

	clientDispatch := &recordingDispatcher{}
	client, err := New(clientDispatch)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect("server", "127.0.0.1:18471"))

	both := []*Reactor{server, client}
	pumpUntil(t, both, func() bool {
		_, ok := client.byPeer["server"]
		return ok
	}, 2*time.Second)

	msg := message.Message{
		Source:        "client",
		Destination:   "server",
		MessageType:   reactorPingType,
		Payload:       []byte("hello"),
		CorrelationID: "corr-1",
	}
	require.NoError(t, client.Send(msg))

	pumpUntil(t, both, func() bool {
		return len(serverDispatch.messages) == 1
	}, 2*time.Second)

	got := serverDispatch.messages[0]
	require.Equal(t, msg.Source, got.Source)
	require.Equal(t, msg.Destination, got.Destination)
	require.Equal(t, msg.MessageType, got.MessageType)
	require.Equal(t, msg.Payload, got.Payload)
	require.Equal(t, msg.CorrelationID, got.CorrelationID)
}

func TestReactor_Connect_RejectsDuplicatePeer(t *testing.T) {
	serverDispatch := &recordingDispatcher{}
	server, err := New(serverDispatch)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Listen("127.0.0.1:18472"))

	client, err := New(&recordingDispatcher{})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect("server", "127.0.0.1:18472"))

	err = client.Connect("server", "127.0.0.1:18472")
	require.Error(t, err)
}

func TestReactor_Send_ResolvesUnconnectedPeerViaTopology(t *testing.T) {
	serverDispatch := &recordingDispatcher{}
	server, err := New(serverDispatch)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Listen("127.0.0.1:18474"))

	topo := topology.NewStatic()
	topo.Set("server", topology.Address{IP: net.ParseIP("127.0.0.1"), Port: 18474})

	client, err := New(&recordingDispatcher{}, WithTopology(topo))
	require.NoError(t, err)
	defer client.Close()

	msg := message.Message{Source: "client", Destination: "server", MessageType: reactorPingType, Payload: []byte("hi")}
	require.NoError(t, client.Send(msg))

	both := []*Reactor{server, client}
	pumpUntil(t, both, func() bool {
		return len(serverDispatch.messages) == 1
	}, 2*time.Second)

	require.Equal(t, msg.Payload, serverDispatch.messages[0].Payload)
}

func TestReactor_Send_NoTopologyAndNoConnectionReturnsTransportError(t *testing.T) {
	r, err := New(&recordingDispatcher{})
	require.NoError(t, err)
	defer r.Close()

	err = r.Send(message.Message{Destination: "nobody", MessageType: reactorPingType})
	require.Error(t, err)
}

func TestReactor_Close_ReleasesListenerAndConnections(t *testing.T) {
	server, err := New(&recordingDispatcher{})
	require.NoError(t, err)
	require.NoError(t, server.Listen("127.0.0.1:18473"))

	client, err := New(&recordingDispatcher{})
	require.NoError(t, err)
	require.NoError(t, client.Connect("server", "127.0.0.1:18473"))

	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
}
