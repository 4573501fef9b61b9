package network

import "github.com/joeycumines/tickloom/message"

// queuedMessage is a pending delivery: a Message, the tick at which it
// becomes deliverable, and the global send-order sequence number used to
// break ties between messages with equal deliveryTick (§3).
type queuedMessage struct {
	msg           message.Message
	deliveryTick  uint64
	sequenceNumber uint64
}

// deliveryHeap is a min-heap ordered by (deliveryTick, sequenceNumber),
// the network's only ordering guarantee across links (§4.B). This is a
// direct generalization of the teacher event loop's own timerHeap
// (github.com/joeycumines/go-eventloop, loop.go), which orders pending
// timers the same way container/heap is used here: by a comparable
// "when" field with a stable tiebreak.
type deliveryHeap []queuedMessage

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	if h[i].deliveryTick != h[j].deliveryTick {
		return h[i].deliveryTick < h[j].deliveryTick
	}
	return h[i].sequenceNumber < h[j].sequenceNumber
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x any) {
	*h = append(*h, x.(queuedMessage))
}

func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
