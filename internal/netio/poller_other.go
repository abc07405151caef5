//go:build !linux

package netio

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller implements Poller on top of poll(2) for non-Linux platforms.
// It rebuilds the pollfd slice from the registry on every Events call,
// which is O(count) rather than epoll's O(ready); acceptable since only
// Linux deployments are expected to run the sender/receiver at the scales
// this system targets.
type pollPoller struct {
	order   []int
	entries map[int]Events
	fds     []unix.PollFd
}

// NewPoller returns the platform's Poller implementation.
func NewPoller() (Poller, error) {
	return &pollPoller{entries: make(map[int]Events)}, nil
}

func (p *pollPoller) Add(fd int, events Events) error {
	if _, ok := p.entries[fd]; !ok {
		p.order = append(p.order, fd)
	}
	p.entries[fd] = events
	return nil
}

func (p *pollPoller) Modify(fd int, events Events) error {
	if _, ok := p.entries[fd]; !ok {
		return p.Add(fd, events)
	}
	p.entries[fd] = events
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	if _, ok := p.entries[fd]; !ok {
		return nil
	}
	delete(p.entries, fd)

	for i, f := range p.order {
		if f == fd {
			last := len(p.order) - 1
			p.order[i] = p.order[last]
			p.order = p.order[:last]
			break
		}
	}
	return nil
}

func (p *pollPoller) Events(timeout time.Duration) (int, error) {
	p.fds = p.fds[:0]
	for _, fd := range p.order {
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(p.entries[fd])})
	}

	ms := timeoutMillis(timeout)

	for {
		n, err := unix.Poll(p.fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
		return n, nil
	}
}

func (p *pollPoller) ProcessEvents(fn func(fd int, events Events)) {
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		fn(int(pfd.Fd), pollToEvents(pfd.Revents))
	}
}

func (p *pollPoller) Close() error { return nil }

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

func eventsToPoll(e Events) int16 {
	var out int16
	if e&EventRead != 0 {
		out |= unix.POLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func pollToEvents(e int16) Events {
	var out Events
	if e&unix.POLLIN != 0 {
		out |= EventRead
	}
	if e&unix.POLLOUT != 0 {
		out |= EventWrite
	}
	if e&unix.POLLERR != 0 {
		out |= EventError
	}
	if e&unix.POLLHUP != 0 {
		out |= EventHangup
	}
	return out
}
