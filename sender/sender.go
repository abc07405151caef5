// Package sender implements the reliable-multicast publishing half of the
// protocol engine: it turns a storage's change queue into a sequenced
// stream of multicast datagrams and answers per-client gap-repair requests
// over TCP.
package sender

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lancaster-data/lancaster/internal/accum"
	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/netio"
	"github.com/lancaster-data/lancaster/internal/wire"
	"github.com/lancaster-data/lancaster/storage"
)

var (
	ErrSequenceOverflow = errors.New("sender: sequence space exhausted")
	ErrStorageOrphaned  = errors.New("sender: storage touched timestamp is stale")
	ErrStorageRecreated = errors.New("sender: storage was recreated at this path")
	ErrChangeQueueOverrun = errors.New("sender: change-queue cursor overrun")
)

// Config configures a Sender. Zero-value durations fall back to the
// defaults documented alongside each field.
type Config struct {
	ListenAddr *net.TCPAddr
	McastGroup *net.UDPAddr
	McastIface string // interface name, for MTU discovery and IP_MULTICAST_IF
	McastTTL   int

	MaxPktAgeUsec int64 // default 10_000 (10ms)
	HeartbeatUsec int64 // default 1_000_000 (1s)

	OrphanTimeoutUsec int64 // default 5_000_000 (5s); IgnoreOrphaned disables the check
	IgnoreOrphaned    bool
	IgnoreRecreated   bool
	IgnoreOverrun     bool

	IdleTimeoutUsec int64 // default 5_000 (5ms)
	IdleSleepUsec   int64 // default 1_000 (1ms)

	Backlog int // TCP listen backlog, default 16
}

func (c *Config) setDefaults() {
	if c.MaxPktAgeUsec == 0 {
		c.MaxPktAgeUsec = 10_000
	}
	if c.HeartbeatUsec == 0 {
		c.HeartbeatUsec = 1_000_000
	}
	if c.OrphanTimeoutUsec == 0 {
		c.OrphanTimeoutUsec = 5_000_000
	}
	if c.IdleTimeoutUsec == 0 {
		c.IdleTimeoutUsec = 5_000
	}
	if c.IdleSleepUsec == 0 {
		c.IdleSleepUsec = 1_000
	}
	if c.Backlog == 0 {
		c.Backlog = 16
	}
}

// Sender publishes a storage's changes over multicast and answers gap
// repair requests over TCP. The zero value is not usable; construct with
// New.
type Sender struct {
	cfg     Config
	store   *storage.Storage
	poller  netio.Poller
	listenFD int
	mcastFD int
	mcastDest *net.UDPAddr
	mtu     int

	pkt *accum.Accumulator

	nextSeq  int64
	lastQIdx int64
	minSeq   int64
	track    sentTracker // per-identifier last-transmitted (revision, sequence)

	clients map[int]*client

	createdAtOpen int64
	lastSendTime  int64
	lastBusyTime  int64
}

// New prepares a Sender over store. It does not open any sockets; call Run
// to start serving.
func New(cfg Config, store *storage.Storage) (*Sender, error) {
	cfg.setDefaults()

	mtu, err := netio.DiscoverMTU(cfg.McastIface)
	if err != nil {
		return nil, fmt.Errorf("sender: discover mtu: %w", err)
	}

	payloadCap := mtu - 28 // IPv4 (20) + UDP (8) header overhead
	entryCap := payloadCap - wire.DataHeaderLen
	if entryCap < 8+int(store.ValueSize()) {
		return nil, fmt.Errorf("sender: mtu %d too small for one record entry", mtu)
	}

	createdAtOpen := store.CreatedUsec()

	return &Sender{
		cfg:           cfg,
		store:         store,
		mtu:           mtu,
		pkt:           accum.New(entryCap),
		nextSeq:       1,
		minSeq:        1,
		track:         newSentTracker(store.BaseID(), store.MaxID()),
		clients:       make(map[int]*client),
		createdAtOpen: createdAtOpen,
	}, nil
}

// Run opens the listening and multicast sockets and serves until stopCh is
// closed or an unrecoverable error occurs.
func (s *Sender) Run(stopCh <-chan struct{}) error {
	poller, err := netio.NewPoller()
	if err != nil {
		return fmt.Errorf("sender: new poller: %w", err)
	}
	s.poller = poller
	defer poller.Close()

	listenFD, err := netio.NewTCPListenSocket(s.cfg.ListenAddr, s.cfg.Backlog)
	if err != nil {
		return fmt.Errorf("sender: listen: %w", err)
	}
	s.listenFD = listenFD
	defer netio.Close(listenFD)

	mcastFD, err := netio.NewUDPSocket(nil)
	if err != nil {
		return fmt.Errorf("sender: mcast socket: %w", err)
	}
	s.mcastFD = mcastFD
	defer netio.Close(mcastFD)

	if err := netio.SetMulticastTTL(mcastFD, s.cfg.McastTTL); err != nil {
		return fmt.Errorf("sender: set mcast ttl: %w", err)
	}
	if s.cfg.McastIface != "" {
		if iface, err := net.InterfaceByName(s.cfg.McastIface); err == nil {
			addrs, _ := iface.Addrs()
			for _, a := range addrs {
				if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
					netio.SetMulticastInterface(mcastFD, ipnet.IP.To4())
					break
				}
			}
		}
	}
	s.mcastDest = s.cfg.McastGroup

	if err := s.poller.Add(listenFD, netio.EventRead); err != nil {
		return fmt.Errorf("sender: poller add listen: %w", err)
	}

	s.lastSendTime = clock.NowUsec()
	s.lastBusyTime = clock.NowUsec()

	for {
		select {
		case <-stopCh:
			return s.shutdown()
		default:
		}

		if err := s.checkLiveness(); err != nil {
			s.shutdown()
			return err
		}

		timeout := 0 * time.Millisecond
		n, err := s.poller.Events(timeout)
		if err != nil {
			return fmt.Errorf("sender: poller events: %w", err)
		}

		busy := n > 0

		var loopErr error
		s.poller.ProcessEvents(func(fd int, ev netio.Events) {
			switch {
			case fd == s.listenFD:
				s.acceptClients()
			case fd == s.mcastFD:
				if err := s.servicePacketiser(); err != nil {
					loopErr = err
				}
			default:
				if c, ok := s.clients[fd]; ok {
					if err := s.serviceClient(c, ev); err != nil {
						s.dropClient(c)
					} else {
						busy = true
					}
				}
			}
		})
		if loopErr != nil {
			s.shutdown()
			return loopErr
		}

		if sent, err := s.maybeSendHeartbeatOrAge(); err != nil {
			s.shutdown()
			return err
		} else if sent {
			busy = true
		}

		now := clock.NowUsec()
		if busy || len(s.clients) > 0 {
			s.lastBusyTime = now
		} else if now-s.lastBusyTime >= s.cfg.IdleTimeoutUsec {
			clock.SleepUsec(s.cfg.IdleSleepUsec)
		}
	}
}

func (s *Sender) checkLiveness() error {
	if !s.cfg.IgnoreRecreated {
		if s.store.CreatedUsec() != s.createdAtOpen {
			return ErrStorageRecreated
		}
	}
	if !s.cfg.IgnoreOrphaned && s.cfg.OrphanTimeoutUsec > 0 {
		touched, err := s.store.Touched()
		if err != nil {
			return err
		}
		if clock.NowUsec()-touched >= s.cfg.OrphanTimeoutUsec {
			return ErrStorageOrphaned
		}
	}
	return nil
}

func (s *Sender) acceptClients() {
	for {
		fd, _, err := netio.Accept(s.listenFD)
		if err != nil {
			return
		}

		g := s.greeting()
		if _, err := netio.Write(fd, g.Encode()); err != nil {
			netio.Close(fd)
			continue
		}

		if len(s.clients) == 0 {
			s.poller.Add(s.mcastFD, netio.EventWrite)
		}

		c := newClient(fd, s.store.ValueSize())
		s.clients[fd] = c
		s.poller.Add(fd, netio.EventRead|netio.EventWrite)
	}
}

func (s *Sender) greeting() wire.Greeting {
	return wire.Greeting{
		WireVersionMajor: wire.WireVersionMajor,
		WireVersionMinor: wire.WireVersionMinor,
		DataVersion:      uint16(s.store.DataVersion()),
		McastAddr:        s.mcastDest.IP.String(),
		McastPort:        s.mcastDest.Port,
		McastMTU:         s.mtu,
		BaseID:           s.store.BaseID(),
		MaxID:            s.store.MaxID(),
		ValueSize:        s.store.ValueSize(),
		QueueCapacity:    s.store.QueueCapacity(),
		MaxPktAgeUsec:    s.cfg.MaxPktAgeUsec,
		HeartbeatUsec:    s.cfg.HeartbeatUsec,
		Description:      s.store.Description(),
	}
}

func (s *Sender) dropClient(c *client) {
	s.poller.Remove(c.fd)
	netio.Close(c.fd)
	delete(s.clients, c.fd)
	if len(s.clients) == 0 {
		s.poller.Remove(s.mcastFD)
	}
}

func (s *Sender) shutdown() error {
	for _, c := range s.clients {
		buf := make([]byte, wire.ControlFrameLen)
		wire.EncodeControlFrame(buf, wire.WillQuitSeq)
		netio.Write(c.fd, buf) // best effort
	}
	clock.Sleep(time.Second)
	for fd := range s.clients {
		netio.Close(fd)
	}
	return nil
}
