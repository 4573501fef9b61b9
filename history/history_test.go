package history

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/tickloom/message"
)

func TestLog_RecordDeliveryAndDrop_PreservesOrder(t *testing.T) {
	l := New()
	msg := message.Message{Source: "a", Destination: "b", CorrelationID: "1"}
	l.RecordDelivery(5, msg)
	l.RecordDrop(6, msg, "partitioned")

	events := l.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventDelivered, events[0].Kind)
	assert.Equal(t, uint64(5), events[0].Tick)
	assert.Equal(t, EventDropped, events[1].Kind)
	assert.Equal(t, "partitioned", events[1].Detail)
}

func TestLog_EventsReturnsDefensiveCopy(t *testing.T) {
	l := New()
	l.RecordDrop(1, message.Message{}, "x")
	events := l.Events()
	events[0].Detail = "mutated"
	assert.Equal(t, "x", l.Events()[0].Detail)
}

func TestLog_MarshalJSONRoundTrips(t *testing.T) {
	l := New()
	l.RecordDelivery(3, message.Message{Source: "a", Destination: "b"})

	data, err := json.Marshal(l)
	require.NoError(t, err)

	var decoded []Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, EventDelivered, decoded[0].Kind)
	assert.Equal(t, uint64(3), decoded[0].Tick)
}
