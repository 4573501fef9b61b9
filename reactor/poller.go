// Package reactor implements the real, OS-backed transport (§5's "real
// reactor network" mode, mentioned alongside the simulated network in
// §4.G): a non-blocking, single-threaded multiplexer over TCP
// connections, each carrying the Frame wire format from package frame.
//
// The split between a small Poller interface and two platform-specific
// implementations (epoll on Linux, kqueue on Darwin) mirrors the teacher
// event loop's own FastPoller/poller_linux.go + poller_darwin.go pair
// (github.com/joeycumines/go-eventloop); this package keeps that
// interface shape but drops its internal cache-line padding and atomic
// version counters, which exist there to support a multi-goroutine
// ingress queue the reactor does not have — everything here runs on one
// goroutine, driven by explicit PollOnce calls, consistent with the
// rest of the framework's cooperative single-threaded model (§5).
package reactor

// IOEvents is a bitmask of readiness conditions reported by a Poller.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback is invoked synchronously from PollIO for each ready fd.
type IOCallback func(IOEvents)

// Poller is the minimal non-blocking readiness-notification capability
// the Reactor needs; poller_linux.go and poller_darwin.go each provide
// one backed by the native multiplexer.
type Poller interface {
	Init() error
	Close() error
	RegisterFD(fd int, events IOEvents, cb IOCallback) error
	ModifyFD(fd int, events IOEvents) error
	UnregisterFD(fd int) error
	// PollIO blocks up to timeoutMs (or indefinitely if negative) for
	// readiness, dispatching callbacks inline, and returns the number of
	// fds that were ready.
	PollIO(timeoutMs int) (int, error)
}
