//go:build linux

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Standard errors, mirroring the teacher poller's own error set
// (github.com/joeycumines/go-eventloop, poller_linux.go).
var (
	ErrFDOutOfRange    = errors.New("reactor: fd out of range")
	ErrFDNotRegistered = errors.New("reactor: fd not registered")
	ErrPollerClosed    = errors.New("reactor: poller closed")
)

const maxFDs = 65536
const maxEvents = 256

// epollPoller implements Poller over Linux epoll. Unlike the teacher's
// FastPoller, there is exactly one goroutine ever calling into this
// type, so the fds table needs no lock and the version counter that
// guards against cross-goroutine staleness is unnecessary.
type epollPoller struct {
	epfd     int
	closed   bool
	eventBuf [maxEvents]unix.EpollEvent
	fds      [maxFDs]epollFDInfo
}

type epollFDInfo struct {
	cb     IOCallback
	active bool
}

// newPoller returns the platform Poller for this build.
func newPoller() Poller { return &epollPoller{} }

func (p *epollPoller) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	return nil
}

func (p *epollPoller) Close() error {
	p.closed = true
	return unix.Close(p.epfd)
}

func (p *epollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fds[fd] = epollFDInfo{cb: cb, active: true}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.fds[fd] = epollFDInfo{}
		return err
	}
	return nil
}

func (p *epollPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	if !p.fds[fd].active {
		return ErrFDNotRegistered
	}
	p.fds[fd] = epollFDInfo{}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		info := p.fds[fd]
		if info.active && info.cb != nil {
			info.cb(fromEpoll(p.eventBuf[i].Events))
		}
	}
	return n, nil
}

func toEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
