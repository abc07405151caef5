package sender

import (
	"errors"
	"fmt"

	"github.com/lancaster-data/lancaster/internal/accum"
	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/netio"
	"github.com/lancaster-data/lancaster/internal/wire"
)

// servicePacketiser drains newly-changed identifiers from the storage's
// change queue into the outstanding packet, flushing whenever the next
// entry would overflow it. Called whenever the multicast socket is
// writable.
func (s *Sender) servicePacketiser() error {
	capacity := int64(s.store.QueueCapacity())
	head := s.store.Head()

	delta := head - s.lastQIdx
	switch {
	case delta < 0:
		// Producer recreated the queue (or was reopened); resynchronise.
		s.lastQIdx = head
		return nil
	case delta > capacity:
		if !s.cfg.IgnoreOverrun {
			return ErrChangeQueueOverrun
		}
		s.lastQIdx = head - capacity
	}

	valueSize := s.store.ValueSize()
	value := make([]byte, valueSize)
	entry := make([]byte, 8+valueSize)

	for pos := s.lastQIdx; pos < head; pos++ {
		id := s.store.QueueAt(pos)

		rev, _, err := s.store.Read(id, value, nil)
		if err != nil {
			return err
		}

		sentRev, _ := s.track.get(id)
		if rev != 0 && rev == sentRev {
			continue
		}

		wire.EncodeMcastEntry(entry, id, value)
		if err := s.pkt.Store(entry); err != nil {
			if !errors.Is(err, accum.ErrWouldOverflow) {
				return err
			}
			if err := s.flush(false); err != nil {
				return err
			}
			if err := s.pkt.Store(entry); err != nil {
				return fmt.Errorf("sender: entry does not fit an empty packet: %w", err)
			}
		}

		s.track.set(id, rev, s.nextSeq)
	}

	s.lastQIdx = head

	if s.pkt.Len() > 0 && s.pkt.IsStale(s.cfg.MaxPktAgeUsec) {
		return s.flush(false)
	}

	return nil
}

// maybeSendHeartbeatOrAge flushes an aged packet, or emits an empty
// heartbeat datagram if nothing has been sent for HeartbeatUsec. Returns
// whether a datagram was sent.
func (s *Sender) maybeSendHeartbeatOrAge() (bool, error) {
	if s.pkt.Len() > 0 && s.pkt.IsStale(s.cfg.MaxPktAgeUsec) {
		if err := s.flush(false); err != nil {
			return false, err
		}
		return true, nil
	}

	if clock.NowUsec()-s.lastSendTime >= s.cfg.HeartbeatUsec {
		if err := s.flush(true); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// flush sends the outstanding packet (or, if heartbeat is true and the
// packet is empty, an empty heartbeat datagram) and advances next_seq.
func (s *Sender) flush(heartbeat bool) error {
	if s.nextSeq >= wire.SequenceMax {
		return ErrSequenceOverflow
	}

	seq := s.nextSeq
	if heartbeat && s.pkt.Len() == 0 {
		seq = -s.nextSeq
	}

	buf := make([]byte, wire.DataHeaderLen+s.pkt.Len())
	copy(buf[wire.DataHeaderLen:], s.pkt.Bytes())

	sendUsec := clock.NowUsec()
	wire.EncodeMcastHeader(buf, seq, sendUsec)

	if err := netio.SendTo(s.mcastFD, buf, s.mcastDest); err != nil {
		return fmt.Errorf("sender: send multicast: %w", err)
	}

	s.lastSendTime = sendUsec
	if seq > 0 {
		s.nextSeq++
	}
	s.pkt.Clear()

	return nil
}
