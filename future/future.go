// Package future implements the single-threaded pending-future primitive
// the whole async runtime is built on (§4.E): PendingFuture[T], the
// correlation-id WaitingList with per-entry expiry, and the
// QuorumAggregator combinator.
//
// The state-machine shape — an integer state, a value slot, an ordered
// handler list invoked synchronously and iteratively on complete/fail — is
// modeled on the teacher library's ChainedPromise
// (github.com/joeycumines/go-eventloop), generalized from its JS-flavored
// Then/Catch/Finally surface to the spec's handle/andThen surface and from
// `any` results to a Go generic type parameter.
package future

import (
	"github.com/joeycumines/tickloom/tlerrors"
)

// State is the lifecycle state of a PendingFuture.
type State int

const (
	Pending State = iota
	Completed
	Failed
)

// Handler observes a terminal transition. On completion err is nil; on
// failure value is the zero value of T.
type Handler[T any] func(value T, err error)

// PendingFuture is a single-assignment, single-threaded future. It has no
// cancellation: callers no longer interested in the result simply ignore
// it (§5).
type PendingFuture[T any] struct {
	state    State
	value    T
	err      error
	handlers []Handler[T]
}

// New returns a PendingFuture in the Pending state.
func New[T any]() *PendingFuture[T] {
	return &PendingFuture[T]{}
}

// State returns the current lifecycle state.
func (f *PendingFuture[T]) State() State { return f.state }

// Complete transitions f to Completed with value. It is a StateError to
// call Complete or Fail on a future that is not Pending.
func (f *PendingFuture[T]) Complete(value T) error {
	if f.state != Pending {
		return tlerrors.NewStateError("Complete", "future already resolved")
	}
	f.state = Completed
	f.value = value
	f.runHandlers()
	return nil
}

// Fail transitions f to Failed with err.
func (f *PendingFuture[T]) Fail(err error) error {
	if f.state != Pending {
		return tlerrors.NewStateError("Fail", "future already resolved")
	}
	f.state = Failed
	f.err = err
	f.runHandlers()
	return nil
}

// GetResult returns the completed value. It is a StateError to call this
// when the future is not Completed.
func (f *PendingFuture[T]) GetResult() (T, error) {
	if f.state != Completed {
		var zero T
		return zero, tlerrors.NewStateError("GetResult", "future is not completed")
	}
	return f.value, nil
}

// GetException returns the failure reason. It is a StateError to call
// this when the future is not Failed.
func (f *PendingFuture[T]) GetException() error {
	if f.state != Failed {
		return tlerrors.NewStateError("GetException", "future is not failed")
	}
	return f.err
}

// Handle registers a handler invoked in registration order on terminal
// transition. If the future is already terminal, cb is invoked
// synchronously before Handle returns. Handle returns f for chaining.
//
// Re-entrant registration (a handler registering another handler while
// handlers are running) behaves as if the future were already terminal:
// the new handler fires immediately, inline, rather than being appended
// to a list that has already been drained. Complete and Fail set the
// terminal state before runHandlers starts, so such a registration takes
// the already-terminal branch below, exactly as a registration made after
// Complete/Fail has returned does.
func (f *PendingFuture[T]) Handle(cb Handler[T]) *PendingFuture[T] {
	if f.state != Pending {
		cb(f.value, f.err)
		return f
	}
	f.handlers = append(f.handlers, cb)
	return f
}

// runHandlers invokes the registered handlers in registration order,
// iteratively, then clears the list. Handlers registered while it runs are
// not appended here: the future is already terminal, so Handle invokes
// them inline.
func (f *PendingFuture[T]) runHandlers() {
	for i := 0; i < len(f.handlers); i++ {
		f.handlers[i](f.value, f.err)
	}
	f.handlers = nil
}

// AndThen registers a handler and returns a new downstream
// PendingFuture[T] that completes with the same outcome as f once cb has
// run, unless cb itself panics, in which case the downstream fails with a
// *tlerrors.FutureFailedError wrapping the recovered value.
func (f *PendingFuture[T]) AndThen(cb Handler[T]) *PendingFuture[T] {
	downstream := New[T]()
	f.Handle(func(value T, err error) {
		failed := false
		var failErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					failed = true
					if e, ok := r.(error); ok {
						failErr = tlerrors.NewFutureFailedError(e)
					} else {
						failErr = tlerrors.NewFutureFailedError(&panicValue{r})
					}
				}
			}()
			cb(value, err)
		}()
		if failed {
			_ = downstream.Fail(failErr)
			return
		}
		if err != nil {
			_ = downstream.Fail(err)
			return
		}
		_ = downstream.Complete(value)
	})
	return downstream
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return errorString(p.v) }

func errorString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "panic"
}
