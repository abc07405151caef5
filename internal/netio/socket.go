package netio

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Read, Write, RecvFrom and SendTo in place of
// the raw EAGAIN/EWOULDBLOCK a non-blocking socket operation can raise, so
// callers can test with errors.Is instead of comparing against a unix
// errno.
var ErrWouldBlock = errors.New("netio: operation would block")

func translateBlocking(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return ErrWouldBlock
	}
	return err
}

// NewUDPSocket creates a non-blocking, SO_REUSEADDR UDP socket bound to
// addr, suitable for either the sender's (multicast publish, no bind
// needed) or the receiver's (bound to the multicast group's port) side of
// the wire protocol.
func NewUDPSocket(addr *net.UDPAddr) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("netio: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netio: setsockopt SO_REUSEADDR: %w", err)
	}

	if addr != nil {
		sa := udpAddrToSockaddr(addr)
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("netio: bind: %w", err)
		}
	}

	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// JoinMulticast adds fd's socket to the multicast group addr via
// IP_ADD_MEMBERSHIP.
func JoinMulticast(fd int, group net.IP, iface net.IP) error {
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if iface != nil {
		copy(mreq.Interface[:], iface.To4())
	}

	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("netio: IP_ADD_MEMBERSHIP: %w", err)
	}
	return nil
}

// SetMulticastTTL sets the IP_MULTICAST_TTL socket option, bounding how many
// router hops a published datagram may cross.
func SetMulticastTTL(fd int, ttl int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); err != nil {
		return fmt.Errorf("netio: IP_MULTICAST_TTL: %w", err)
	}
	return nil
}

// SetMulticastLoop controls whether datagrams published by this socket are
// looped back to receivers on the same host.
func SetMulticastLoop(fd int, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, v); err != nil {
		return fmt.Errorf("netio: IP_MULTICAST_LOOP: %w", err)
	}
	return nil
}

// SetMulticastInterface selects the outgoing interface for multicast
// datagrams sent on fd, via IP_MULTICAST_IF.
func SetMulticastInterface(fd int, iface net.IP) error {
	addr := [4]byte{}
	copy(addr[:], iface.To4())
	if err := unix.SetsockoptInet4Addr(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, addr); err != nil {
		return fmt.Errorf("netio: IP_MULTICAST_IF: %w", err)
	}
	return nil
}

// DiscoverMTU returns the link MTU of the named network interface. Go's
// net package already performs the SIOCGIFMTU ioctl internally, so this
// wraps InterfaceByName rather than issuing the ioctl directly.
func DiscoverMTU(ifaceName string) (int, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return 0, fmt.Errorf("netio: interface %q: %w", ifaceName, err)
	}
	return iface.MTU, nil
}

// SetNonblock toggles O_NONBLOCK on fd.
func SetNonblock(fd int, nonblocking bool) error {
	if err := unix.SetNonblock(fd, nonblocking); err != nil {
		return fmt.Errorf("netio: set nonblock: %w", err)
	}
	return nil
}

// NewTCPListenSocket creates a non-blocking, SO_REUSEADDR TCP listening
// socket bound to addr with the given backlog, for the gap-repair side
// channel: a sender listens, and each receiver dials out to it.
func NewTCPListenSocket(addr *net.TCPAddr, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netio: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netio: setsockopt SO_REUSEADDR: %w", err)
	}

	sa := tcpAddrToSockaddr(addr)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netio: bind: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netio: listen: %w", err)
	}

	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// Accept accepts a pending connection on a non-blocking listening socket.
// It returns unix.EAGAIN when no connection is pending; callers
// should only call Accept after the Poller reports EventRead.
func Accept(listenFd int) (int, *net.TCPAddr, error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, nil, err
	}

	if err := SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(nfd)
		return -1, nil, fmt.Errorf("netio: TCP_NODELAY: %w", err)
	}

	return nfd, sockaddrToTCPAddr(sa), nil
}

// NewTCPConnectSocket creates a non-blocking TCP socket and begins
// connecting to addr. The connect is typically still in progress when this
// returns (EINPROGRESS); the caller must register fd for EventWrite and
// confirm success via SO_ERROR once the Poller reports writability.
func NewTCPConnectSocket(addr *net.TCPAddr) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netio: socket: %w", err)
	}

	if err := SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := tcpAddrToSockaddr(addr)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("netio: connect: %w", err)
	}

	return fd, nil
}

// ConnectError returns the pending connect's result once the Poller reports
// the socket writable, via SO_ERROR.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netio: SO_ERROR: %w", err)
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func udpAddrToSockaddr(addr *net.UDPAddr) unix.Sockaddr {
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To4())
	return sa
}

func tcpAddrToSockaddr(addr *net.TCPAddr) unix.Sockaddr {
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To4())
	}
	return sa
}

// LocalAddr returns the address fd is bound to, via getsockname(2).
func LocalAddr(fd int) (*net.UDPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("netio: getsockname: %w", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("netio: getsockname: unexpected address family")
	}
	return &net.UDPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil
	}
	return &net.TCPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}
}

// RecvFrom reads a single datagram from fd into buf, returning the number
// of bytes read and the sender's address.
func RecvFrom(fd int, buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, nil, translateBlocking(err)
	}

	var addr *net.UDPAddr
	if sa4, ok := from.(*unix.SockaddrInet4); ok {
		addr = &net.UDPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}
	}

	return n, addr, nil
}

// SendTo writes a single datagram to addr via fd.
func SendTo(fd int, buf []byte, addr *net.UDPAddr) error {
	return translateBlocking(unix.Sendto(fd, buf, 0, udpAddrToSockaddr(addr)))
}

// Read reads from a connected socket (TCP side channel).
func Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	return n, translateBlocking(err)
}

// Write writes to a connected socket (TCP side channel).
func Write(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	return n, translateBlocking(err)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}
