package future

import "strconv"

// QuorumAggregator fans out a request to `total` peers and resolves once
// at least `quorum` of the received responses satisfy Predicate, or once
// the remaining unreceived responses can no longer possibly reach quorum
// (§4.E). It implements ResponseCallback so it can be registered directly
// against a WaitingList entry per correlation id, as
// Process.BroadcastToAllReplicas does (§4.F).
type QuorumAggregator[R any] struct {
	quorum    int
	total     int
	predicate func(R) bool

	received   map[string]R
	satisfying []R // insertion order; the first `quorum` is the terminal success value

	nonSatisfyingCount int // received but predicate(r) == false
	errorCount         int // OnError calls, or responses of the wrong type

	done   bool
	result *PendingFuture[[]R]
}

// NewQuorumAggregator constructs an aggregator expecting up to `total`
// responses (the fan-out size), resolving its associated future
// successfully once `quorum` of them satisfy predicate.
func NewQuorumAggregator[R any](quorum, total int, predicate func(R) bool) *QuorumAggregator[R] {
	return &QuorumAggregator[R]{
		quorum:    quorum,
		total:     total,
		predicate: predicate,
		received:  make(map[string]R),
		result:    New[[]R](),
	}
}

// Future returns the PendingFuture this aggregator completes or fails
// exactly once, when it terminates.
func (q *QuorumAggregator[R]) Future() *PendingFuture[[]R] { return q.result }

// OnResponse implements ResponseCallback. response must be assignable to
// R; a mismatched type is counted like an OnError call (it uses up one of
// the expected responses and is not recorded against fromProcessID)
// rather than causing a panic, since a malformed reply is an
// expected-at-the-boundary condition, not a programming error.
func (q *QuorumAggregator[R]) OnResponse(response any, fromProcessID string) bool {
	if q.done {
		// Idempotent for responses arriving after termination.
		return true
	}
	if _, dup := q.received[fromProcessID]; dup {
		return false
	}
	r, ok := response.(R)
	if !ok {
		q.errorCount++
		return q.checkTermination()
	}
	q.received[fromProcessID] = r
	if q.predicate(r) {
		q.satisfying = append(q.satisfying, r)
	} else {
		q.nonSatisfyingCount++
	}
	return q.checkTermination()
}

// OnError implements ResponseCallback.
func (q *QuorumAggregator[R]) OnError(err error) {
	if q.done {
		return
	}
	q.errorCount++
	q.checkTermination()
}

// responded is the number of peer outcomes recorded so far, of any kind.
func (q *QuorumAggregator[R]) responded() int {
	return len(q.satisfying) + q.nonSatisfyingCount + q.errorCount
}

// checkTermination evaluates the success and impossibility conditions and
// completes/fails q.result at most once. It returns true once q is
// terminal, so callers (e.g. the waiting list) know the entry is resolved.
func (q *QuorumAggregator[R]) checkTermination() bool {
	if q.done {
		return true
	}
	if len(q.satisfying) >= q.quorum {
		q.done = true
		_ = q.result.Complete(append([]R(nil), q.satisfying[:q.quorum]...))
		return true
	}
	remaining := q.total - q.responded()
	if len(q.satisfying)+remaining < q.quorum {
		q.done = true
		_ = q.result.Fail(quorumImpossibleError{
			quorum:     q.quorum,
			satisfying: len(q.satisfying),
			remaining:  remaining,
		})
		return true
	}
	return false
}

// quorumImpossibleError is returned when quorum can no longer be reached.
type quorumImpossibleError struct {
	quorum     int
	satisfying int
	remaining  int
}

func (e quorumImpossibleError) Error() string {
	return "future: quorum unreachable: have " + strconv.Itoa(e.satisfying) + " of " + strconv.Itoa(e.quorum) +
		" with " + strconv.Itoa(e.remaining) + " responses still outstanding"
}
