//go:build linux

package netio

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller on top of epoll(7), grounded on
// joeycumines-go-utilpkg/eventloop/poller_linux.go's event-bitmask
// conversion and EINTR-restart loop.
type epollPoller struct {
	epfd     int
	entries  map[int]Events
	ready    []unix.EpollEvent
	numReady int
}

// NewPoller returns the platform's Poller implementation. On Linux this is
// an epoll(7)-backed poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &epollPoller{
		epfd:    epfd,
		entries: make(map[int]Events),
		ready:   make([]unix.EpollEvent, 64),
	}, nil
}

func (p *epollPoller) Add(fd int, events Events) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: eventsToEpoll(events)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.entries[fd] = events
	return nil
}

func (p *epollPoller) Modify(fd int, events Events) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: eventsToEpoll(events)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.entries[fd] = events
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if _, ok := p.entries[fd]; !ok {
		return nil
	}
	delete(p.entries, fd)
	// Linux requires a non-nil event pointer for EPOLL_CTL_DEL on kernels
	// older than 2.6.9; pass one for safety even though it is ignored.
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *epollPoller) Events(timeout time.Duration) (int, error) {
	ms := timeoutMillis(timeout)

	for {
		n, err := unix.EpollWait(p.epfd, p.ready, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}

		p.numReady = n
		if n == len(p.ready) {
			grown := make([]unix.EpollEvent, len(p.ready)*2)
			copy(grown, p.ready)
			p.ready = grown
		}

		return n, nil
	}
}

func (p *epollPoller) ProcessEvents(fn func(fd int, events Events)) {
	for _, ev := range p.ready[:p.numReady] {
		fn(int(ev.Fd), epollToEvents(ev.Events))
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

func eventsToEpoll(e Events) uint32 {
	var out uint32
	if e&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	if e&EventError != 0 {
		out |= unix.EPOLLERR
	}
	if e&EventHangup != 0 {
		out |= unix.EPOLLHUP
	}
	return out
}

func epollToEvents(e uint32) Events {
	var out Events
	if e&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		out |= EventHangup
	}
	return out
}
