// Package receiver implements the reliable-multicast consuming half of the
// protocol engine: it bootstraps from a sender's TCP greeting, maintains a
// local storage as a near-real-time mirror of the sender's, and requests
// retransmission of any multicast gap over the same TCP connection.
package receiver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/netio"
	"github.com/lancaster-data/lancaster/internal/wire"
	"github.com/lancaster-data/lancaster/storage"
)

var (
	ErrProtocolTimeout  = errors.New("receiver: greeting not received within deadline")
	ErrWrongWireVersion = errors.New("receiver: sender's wire major version is incompatible")
	ErrUnexpectedSource = errors.New("receiver: multicast datagram from unexpected source")
	ErrProtocolError    = errors.New("receiver: malformed greeting or datagram")
	ErrNoHeartbeat      = errors.New("receiver: peer silent past the liveness deadline")

	maxMissedHeartbeats  int64 = 2
	initialMcastHBUsec   int64 = 30_000_000
)

// Config configures a Receiver.
type Config struct {
	SenderAddr *net.TCPAddr

	StoragePath string
	Persist     bool

	TouchPeriodUsec int64 // 0 disables periodic touching

	GreetingTimeout time.Duration // default 10s
}

func (c *Config) setDefaults() {
	if c.GreetingTimeout == 0 {
		c.GreetingTimeout = 10 * time.Second
	}
}

// Receiver mirrors a remote sender's storage locally.
type Receiver struct {
	cfg   Config
	store *storage.Storage

	tcpFD   int
	mcastFD int

	senderIP net.IP

	nextSeq int64

	// perSlotSeq tracks the sequence each identifier was last accepted
	// under, indexed by id - BaseID, used to reject stale gap replies.
	perSlotSeq []int64

	tcpInbuf []byte

	mcastRecvUsec int64
	tcpRecvUsec   int64
	sawFirstMcast bool

	heartbeatUsec int64
	mcastMTU      int
}

// New bootstraps a Receiver: dials the sender, reads and validates its
// greeting, creates the local storage it describes, and joins the
// advertised multicast group. The sockets opened here are closed by Run on
// exit.
func New(cfg Config) (*Receiver, error) {
	cfg.setDefaults()

	tcpFD, err := netio.NewTCPConnectSocket(cfg.SenderAddr)
	if err != nil {
		return nil, fmt.Errorf("receiver: connect: %w", err)
	}

	if err := waitConnected(tcpFD, cfg.GreetingTimeout); err != nil {
		netio.Close(tcpFD)
		return nil, err
	}

	if err := netio.SetNonblock(tcpFD, false); err != nil {
		netio.Close(tcpFD)
		return nil, err
	}
	if err := setReadTimeout(tcpFD, cfg.GreetingTimeout); err != nil {
		netio.Close(tcpFD)
		return nil, err
	}

	g, err := wire.ParseGreeting(bufio.NewReader(fdReader{tcpFD}))
	if err != nil {
		netio.Close(tcpFD)
		switch {
		case errors.Is(err, wire.ErrWrongVersion):
			return nil, ErrWrongWireVersion
		case errors.Is(err, netio.ErrWouldBlock):
			return nil, ErrProtocolTimeout
		default:
			return nil, fmt.Errorf("%w: %v", ErrProtocolError, err)
		}
	}

	if err := netio.SetNonblock(tcpFD, true); err != nil {
		netio.Close(tcpFD)
		return nil, err
	}

	store, err := storage.Create(cfg.StoragePath, storage.CreateOptions{
		BaseID:        g.BaseID,
		MaxID:         g.MaxID,
		ValueSize:     g.ValueSize,
		QueueCapacity: g.QueueCapacity,
		Description:   g.Description,
		DataVersion:   uint32(g.DataVersion),
		Persist:       cfg.Persist,
	})
	if err != nil {
		netio.Close(tcpFD)
		return nil, fmt.Errorf("receiver: create local storage: %w", err)
	}

	mcastAddr := &net.UDPAddr{IP: net.ParseIP(g.McastAddr), Port: g.McastPort}
	mcastFD, err := netio.NewUDPSocket(mcastAddr)
	if err != nil {
		store.Close()
		netio.Close(tcpFD)
		return nil, fmt.Errorf("receiver: bind multicast socket: %w", err)
	}
	if err := netio.JoinMulticast(mcastFD, mcastAddr.IP, nil); err != nil {
		store.Close()
		netio.Close(tcpFD)
		netio.Close(mcastFD)
		return nil, fmt.Errorf("receiver: join multicast group: %w", err)
	}

	now := clock.NowUsec()
	return &Receiver{
		cfg:           cfg,
		store:         store,
		tcpFD:         tcpFD,
		mcastFD:       mcastFD,
		senderIP:      cfg.SenderAddr.IP,
		nextSeq:       1,
		perSlotSeq:    make([]int64, g.MaxID-g.BaseID),
		mcastRecvUsec: now,
		tcpRecvUsec:   now,
		heartbeatUsec: g.HeartbeatUsec,
		mcastMTU:      g.McastMTU,
	}, nil
}

// Storage returns the local mirror storage. Valid for the Receiver's
// lifetime.
func (r *Receiver) Storage() *storage.Storage { return r.store }

// Run serves multicast ingest and gap-repair ingest until stopCh is closed
// or an unrecoverable error occurs. Run closes both sockets and the local
// storage on return.
func (r *Receiver) Run(stopCh <-chan struct{}) error {
	defer netio.Close(r.tcpFD)
	defer netio.Close(r.mcastFD)
	defer r.store.Close()

	poller, err := netio.NewPoller()
	if err != nil {
		return fmt.Errorf("receiver: new poller: %w", err)
	}
	defer poller.Close()

	if err := poller.Add(r.mcastFD, netio.EventRead); err != nil {
		return err
	}
	if err := poller.Add(r.tcpFD, netio.EventRead); err != nil {
		return err
	}

	lastTouch := clock.NowUsec()

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		if err := r.checkLiveness(); err != nil {
			return err
		}

		n, err := poller.Events(10 * time.Millisecond)
		if err != nil {
			return err
		}

		var loopErr error
		if n > 0 {
			poller.ProcessEvents(func(fd int, ev netio.Events) {
				if loopErr != nil {
					return
				}
				switch fd {
				case r.mcastFD:
					loopErr = r.ingestMulticast()
				case r.tcpFD:
					loopErr = r.ingestGapReplies(ev)
				}
			})
		}
		if loopErr != nil {
			if errors.Is(loopErr, errWillQuit) {
				return nil
			}
			return loopErr
		}

		if r.cfg.TouchPeriodUsec > 0 {
			now := clock.NowUsec()
			if now-lastTouch >= r.cfg.TouchPeriodUsec {
				if err := r.store.SetTouched(); err != nil {
					return err
				}
				lastTouch = now
			}
		}
	}
}

var errWillQuit = errors.New("receiver: sender requested shutdown")

func (r *Receiver) checkLiveness() error {
	now := clock.NowUsec()

	mcastDeadline := r.heartbeatUsec*(maxMissedHeartbeats+1) + 100_000
	if !r.sawFirstMcast {
		mcastDeadline = initialMcastHBUsec
	}
	if now-r.mcastRecvUsec >= mcastDeadline {
		return ErrNoHeartbeat
	}

	tcpDeadline := r.heartbeatUsec*(maxMissedHeartbeats+1) + 100_000
	if now-r.tcpRecvUsec >= tcpDeadline {
		return ErrNoHeartbeat
	}

	return nil
}
