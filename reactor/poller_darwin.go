//go:build darwin

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	ErrFDOutOfRange    = errors.New("reactor: fd out of range")
	ErrFDNotRegistered = errors.New("reactor: fd not registered")
	ErrPollerClosed    = errors.New("reactor: poller closed")
)

const maxFDs = 65536
const maxEvents = 256

// kqueuePoller implements Poller over Darwin kqueue, grounded on the
// teacher's own kqueue poller (github.com/joeycumines/go-eventloop,
// poller_darwin.go) with the same single-goroutine simplification
// applied to poller_linux.go: no locking, since the Reactor drives
// PollIO from one goroutine only.
type kqueuePoller struct {
	kq       int
	closed   bool
	eventBuf [maxEvents]unix.Kevent_t
	fds      [maxFDs]kqueueFDInfo
}

type kqueueFDInfo struct {
	cb     IOCallback
	events IOEvents
	active bool
}

func newPoller() Poller { return &kqueuePoller{} }

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *kqueuePoller) Close() error {
	p.closed = true
	return unix.Close(p.kq)
}

func (p *kqueuePoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fds[fd] = kqueueFDInfo{cb: cb, events: events, active: true}
	changes := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			p.fds[fd] = kqueueFDInfo{}
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	old := p.fds[fd].events
	p.fds[fd].events = events

	if del := old &^ events; del != 0 {
		changes := eventsToKevents(fd, del, unix.EV_DELETE)
		if len(changes) > 0 {
			_, _ = unix.Kevent(p.kq, changes, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		changes := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE)
		if len(changes) > 0 {
			if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueuePoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	events := p.fds[fd].events
	p.fds[fd] = kqueueFDInfo{}
	changes := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(changes) > 0 {
		_, _ = unix.Kevent(p.kq, changes, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) PollIO(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1000000)}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		info := p.fds[fd]
		if !info.active || info.cb == nil {
			continue
		}
		var ev IOEvents
		switch p.eventBuf[i].Filter {
		case unix.EVFILT_READ:
			ev = EventRead
		case unix.EVFILT_WRITE:
			ev = EventWrite
		}
		if p.eventBuf[i].Flags&unix.EV_EOF != 0 {
			ev |= EventHangup
		}
		if p.eventBuf[i].Flags&unix.EV_ERROR != 0 {
			ev |= EventError
		}
		info.cb(ev)
	}
	return n, nil
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if events&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}
