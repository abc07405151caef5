package sender

import (
	"errors"
	"io"
	"math"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/netio"
	"github.com/lancaster-data/lancaster/internal/wire"
)

// client tracks one connected receiver's gap-repair state: a persistent
// union of requested sequence ranges, and the transient scan over
// [replyID, maxID) while a reply pass is in progress.
type client struct {
	fd        int
	valueSize uint32

	inbuf []byte

	hasUnion            bool
	unionLow, unionHigh int64

	replying              bool
	replyLow, replyHigh   int64
	replyID               int64
	minSeqFound           int64

	lastTCPSendUsec int64
}

func newClient(fd int, valueSize uint32) *client {
	return &client{fd: fd, valueSize: valueSize, lastTCPSendUsec: clock.NowUsec()}
}

func (s *Sender) serviceClient(c *client, ev netio.Events) error {
	if ev&(netio.EventHangup|netio.EventError) != 0 {
		return io.EOF
	}

	if ev&netio.EventRead != 0 {
		if err := s.absorbRanges(c); err != nil {
			return err
		}
	}

	if ev&netio.EventWrite != 0 {
		if err := s.progressClient(c); err != nil {
			return err
		}
	}

	return nil
}

// absorbRanges reads as many complete [low, high) range-request frames as
// are available and merges each into the client's persistent union range.
func (s *Sender) absorbRanges(c *client) error {
	tmp := make([]byte, 4096)
	for {
		n, err := netio.Read(c.fd, tmp)
		if n > 0 {
			c.inbuf = append(c.inbuf, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				break
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
		if n < len(tmp) {
			break
		}
	}

	for len(c.inbuf) >= wire.RangeRequestLen {
		low, high, err := wire.DecodeRangeRequest(c.inbuf)
		if err != nil {
			return err
		}
		c.inbuf = c.inbuf[wire.RangeRequestLen:]
		s.mergeUnion(c, low, high)
	}

	return nil
}

func (s *Sender) mergeUnion(c *client, low, high int64) {
	if !c.hasUnion {
		c.unionLow, c.unionHigh, c.hasUnion = low, high, true
		return
	}
	if low < c.unionLow {
		c.unionLow = low
	}
	if high > c.unionHigh {
		c.unionHigh = high
	}
}

// progressClient advances the per-client state machine by one writable
// opportunity: either continuing an in-progress reply scan, or starting one
// from the accumulated union range, or sending a due TCP heartbeat.
func (s *Sender) progressClient(c *client) error {
	if !c.replying {
		if c.hasUnion && c.unionHigh > s.minSeq {
			c.replyLow, c.replyHigh = c.unionLow, c.unionHigh
			c.replyID = s.store.BaseID()
			c.minSeqFound = math.MaxInt64
			c.replying = true
			c.hasUnion = false
		} else {
			if clock.NowUsec()-c.lastTCPSendUsec >= s.cfg.HeartbeatUsec {
				return s.sendControl(c, wire.HeartbeatSeq)
			}
			return nil
		}
	}

	return s.continueReply(c)
}

// continueReply scans forward from c.replyID, replying to every identifier
// whose last transmitted sequence falls in [replyLow, replyHigh), stopping
// after one reply (so a single slow client can't starve the poller) or when
// the scan reaches max_id.
func (s *Sender) continueReply(c *client) error {
	maxID := s.store.MaxID()
	value := make([]byte, c.valueSize)

	for c.replyID < maxID {
		id := c.replyID
		_, seq := s.track.get(id)

		c.replyID++

		if seq < c.replyLow || seq >= c.replyHigh {
			continue
		}

		rev, err := s.store.Revision(id)
		if err != nil {
			return err
		}
		if rev == 0 {
			continue
		}
		if seq < c.minSeqFound {
			c.minSeqFound = seq
		}

		if _, _, err := s.store.Read(id, value, nil); err != nil {
			return err
		}

		buf := make([]byte, wire.GapReplyLen(c.valueSize))
		wire.EncodeGapReply(buf, seq, id, value)
		if _, err := netio.Write(c.fd, buf); err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				c.replyID--
				return nil
			}
			return err
		}
		c.lastTCPSendUsec = clock.NowUsec()
		return nil
	}

	if c.minSeqFound != math.MaxInt64 && c.minSeqFound < s.minSeq {
		// Never raise the floor: a slower client's lower bound must stay
		// answerable even after a faster client's pass completes.
		s.minSeq = c.minSeqFound
	}
	c.replying = false
	c.replyLow, c.replyHigh = 0, 0
	return nil
}

func (s *Sender) sendControl(c *client, seq int64) error {
	buf := make([]byte, wire.ControlFrameLen)
	wire.EncodeControlFrame(buf, seq)
	if _, err := netio.Write(c.fd, buf); err != nil {
		if errors.Is(err, netio.ErrWouldBlock) {
			return nil
		}
		return err
	}
	c.lastTCPSendUsec = clock.NowUsec()
	return nil
}
