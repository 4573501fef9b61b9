// Package history implements the pure event log named in §8's redesign
// guidance: the consistency-checker itself is out of scope, but the core
// exposes a plain, serializable record of what happened, for an external
// tool to verify.
//
// Kept deliberately dumb: an append-only slice plus encoding/json
// marshaling, with no query language or indexing — the kind of thing the
// teacher library reaches for encoding/json over a bespoke format for
// (its own test harnesses marshal fixtures the same way), and exactly
// the boundary §8 draws between "record" and "verify".
package history

import (
	"encoding/json"

	"github.com/joeycumines/tickloom/message"
	"github.com/joeycumines/tickloom/network"
)

// EventKind classifies one recorded Event.
type EventKind string

const (
	EventDelivered      EventKind = "delivered"
	EventDropped        EventKind = "dropped"
	EventPartitionFlip  EventKind = "partition_flip"
	EventClog           EventKind = "clog"
	EventStorageWritten EventKind = "storage_written"
)

// Event is one entry in the log, always tagged with the tick it occurred
// on so the sequence can be replayed or diffed against another run.
type Event struct {
	Tick    uint64          `json:"tick"`
	Kind    EventKind       `json:"kind"`
	Message *message.Message `json:"message,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// Log is an append-only, in-memory history. It is not safe for
// concurrent use, matching every other tickloom component (§5).
type Log struct {
	events []Event
}

// New returns an empty Log.
func New() *Log { return &Log{} }

// Record appends e to the log.
func (l *Log) Record(e Event) { l.events = append(l.events, e) }

// RecordDelivery appends an EventDelivered entry.
func (l *Log) RecordDelivery(tick uint64, msg message.Message) {
	l.Record(Event{Tick: tick, Kind: EventDelivered, Message: &msg})
}

// RecordDrop appends an EventDropped entry.
func (l *Log) RecordDrop(tick uint64, msg message.Message, reason string) {
	l.Record(Event{Tick: tick, Kind: EventDropped, Message: &msg, Detail: reason})
}

// RecordPartitionFlip appends an EventPartitionFlip entry.
func (l *Log) RecordPartitionFlip(tick uint64, active bool, groupA, groupB []message.ProcessID) {
	detail := "healed"
	if active {
		detail = "partitioned " + joinIDs(groupA) + " | " + joinIDs(groupB)
	}
	l.Record(Event{Tick: tick, Kind: EventPartitionFlip, Detail: detail})
}

// RecordClog appends an EventClog entry.
func (l *Log) RecordClog(tick uint64, source, destination message.ProcessID, untilTick uint64) {
	l.Record(Event{Tick: tick, Kind: EventClog, Detail: string(source) + "->" + string(destination)})
}

// Events returns a defensive copy of the recorded events in order.
func (l *Log) Events() []Event {
	cp := make([]Event, len(l.events))
	copy(cp, l.events)
	return cp
}

// MarshalJSON serializes the full event sequence for an external
// verification tool to consume.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.events)
}

var _ network.FaultRecorder = (*Log)(nil)

func joinIDs(ids []message.ProcessID) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += string(id)
	}
	return s
}
