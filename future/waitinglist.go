package future

import (
	"sort"

	"github.com/joeycumines/tickloom/tlerrors"
)

// ResponseCallback is the per-entry callback a WaitingList fires on
// response or timeout. It mirrors the aggregator/process boundary
// described in §4.E/§4.F: onResponse records a reply and reports whether
// the entry is now fully satisfied (and should be removed); onError
// reports a terminal failure (the entry is always removed after onError).
type ResponseCallback interface {
	// OnResponse handles a reply from fromProcessID and returns true if
	// the waiting-list entry is now resolved and should be removed.
	OnResponse(response any, fromProcessID string) (done bool)
	// OnError handles a terminal failure, e.g. a Timeout.
	OnError(err error)
}

type waitingEntry struct {
	callback      ResponseCallback
	createdAtTick uint64
	seq           uint64
}

// WaitingList is a process-private map from correlation id to
// (callback, createdAtTick), with per-entry expiry driven by Tick. seq is
// a monotonic insertion counter so Tick can fire same-tick expirations in
// a deterministic order (§8 invariant 1) instead of Go's randomized map
// iteration order.
type WaitingList struct {
	timeoutTicks uint64
	entries      map[string]*waitingEntry
	seq          uint64
}

// NewWaitingList returns a WaitingList whose entries expire timeoutTicks
// after they were added.
func NewWaitingList(timeoutTicks uint64) *WaitingList {
	return &WaitingList{
		timeoutTicks: timeoutTicks,
		entries:      make(map[string]*waitingEntry),
	}
}

// Add registers callback against correlationID, recorded as created at
// createdAtTick. It is a StateError to reuse a correlation id that is
// still in the list.
func (w *WaitingList) Add(correlationID string, callback ResponseCallback, createdAtTick uint64) error {
	if _, exists := w.entries[correlationID]; exists {
		return tlerrors.NewStateError("WaitingList.Add", "duplicate correlation id: "+correlationID)
	}
	w.seq++
	w.entries[correlationID] = &waitingEntry{callback: callback, createdAtTick: createdAtTick, seq: w.seq}
	return nil
}

// Len reports the number of in-flight entries.
func (w *WaitingList) Len() int { return len(w.entries) }

// Contains reports whether correlationID currently has an entry, without
// resolving or removing it. Process.OnMessageReceived uses this to
// distinguish "routed to the waiting list but not yet resolved" from
// "never tracked, falls through to the handler table".
func (w *WaitingList) Contains(correlationID string) bool {
	_, ok := w.entries[correlationID]
	return ok
}

// HandleResponse delivers response to the callback registered for
// correlationID, if any. The entry is removed iff the callback reports
// itself done. Unknown correlation ids are silently ignored: the caller
// (Process.OnMessageReceived) is the one that decides whether a message
// belongs to the waiting list at all.
func (w *WaitingList) HandleResponse(correlationID string, response any, fromProcessID string) {
	entry, ok := w.entries[correlationID]
	if !ok {
		return
	}
	if entry.callback.OnResponse(response, fromProcessID) {
		delete(w.entries, correlationID)
	}
}

// Tick scans entries whose createdAtTick + timeoutTicks <= currentTick and
// fires OnError(TimeoutError) for each, removing them. Same-tick expirations
// fire in insertion order (oldest correlation id first), not Go's randomized
// map iteration order, so a tick's observable effects are reproducible
// across runs (§8 invariant 1).
func (w *WaitingList) Tick(currentTick uint64) {
	if len(w.entries) == 0 {
		return
	}
	var expired []string
	for cid, entry := range w.entries {
		if entry.createdAtTick+w.timeoutTicks <= currentTick {
			expired = append(expired, cid)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return w.entries[expired[i]].seq < w.entries[expired[j]].seq
	})
	for _, cid := range expired {
		entry := w.entries[cid]
		delete(w.entries, cid)
		entry.callback.OnError(tlerrors.NewTimeoutError(cid, entry.createdAtTick, w.timeoutTicks))
	}
}
