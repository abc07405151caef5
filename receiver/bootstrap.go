package receiver

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lancaster-data/lancaster/internal/netio"
)

// waitConnected blocks until fd's non-blocking connect completes (success
// or failure) or timeout elapses, via a one-shot poll(2) wait.
func waitConnected(fd int, timeout time.Duration) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}

	millis := int(timeout.Milliseconds())
	for {
		n, err := unix.Poll(pfd, millis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("receiver: poll connect: %w", err)
		}
		if n == 0 {
			return ErrProtocolTimeout
		}
		break
	}

	return netio.ConnectError(fd)
}

// setReadTimeout configures SO_RCVTIMEO so a subsequent blocking Read
// returns EAGAIN/EWOULDBLOCK after d, bounding the greeting read without
// a separate timer goroutine.
func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// fdReader adapts a raw file descriptor to io.Reader for bufio.Reader.
type fdReader struct{ fd int }

func (r fdReader) Read(p []byte) (int, error) {
	return netio.Read(r.fd, p)
}
