package receiver

import (
	"errors"

	"github.com/lancaster-data/lancaster/internal/clock"
	"github.com/lancaster-data/lancaster/internal/netio"
	"github.com/lancaster-data/lancaster/internal/wire"
)

// ingestMulticast drains and processes every datagram currently available
// on the multicast socket.
func (r *Receiver) ingestMulticast() error {
	valueSize := r.store.ValueSize()
	buf := make([]byte, r.mcastMTU)

	for {
		n, from, err := netio.RecvFrom(r.mcastFD, buf)
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				return nil
			}
			return err
		}

		if from != nil && !from.IP.Equal(r.senderIP) {
			return ErrUnexpectedSource
		}

		if err := r.processDatagram(buf[:n], valueSize); err != nil {
			return err
		}
	}
}

func (r *Receiver) processDatagram(datagram []byte, valueSize uint32) error {
	seq, _, err := wire.DecodeMcastHeader(datagram)
	if err != nil {
		return ErrProtocolError
	}

	r.mcastRecvUsec = clock.NowUsec()
	r.sawFirstMcast = true

	if seq < 0 {
		heartbeatSeq := -seq
		if heartbeatSeq > r.nextSeq {
			r.nextSeq = heartbeatSeq
		}
		return nil
	}

	if seq < r.nextSeq {
		return nil // duplicate or late
	}

	if seq > r.nextSeq {
		if err := r.requestRange(r.nextSeq, seq); err != nil {
			return err
		}
	}

	body := datagram[wire.DataHeaderLen:]
	entryLen := 8 + int(valueSize)
	for len(body) >= entryLen {
		id, value, err := wire.DecodeMcastEntry(body, valueSize)
		if err != nil {
			return ErrProtocolError
		}
		body = body[entryLen:]

		if _, err := r.store.Write(id, value, nil); err != nil {
			return err
		}
		r.perSlotSeq[id-r.store.BaseID()] = seq
	}

	r.nextSeq = seq + 1
	return nil
}

func (r *Receiver) requestRange(low, high int64) error {
	buf := make([]byte, wire.RangeRequestLen)
	wire.EncodeRangeRequest(buf, low, high)
	_, err := netio.Write(r.tcpFD, buf)
	if errors.Is(err, netio.ErrWouldBlock) {
		return nil // best effort; a later gap will re-request if still open
	}
	return err
}

// ingestGapReplies reads as many complete TCP frames as are available and
// applies each.
func (r *Receiver) ingestGapReplies(ev netio.Events) error {
	if ev&(netio.EventHangup|netio.EventError) != 0 {
		return errWillQuit
	}

	valueSize := r.store.ValueSize()
	controlLen := wire.ControlFrameLen
	replyLen := wire.GapReplyLen(valueSize)

	tmp := make([]byte, 4096)
	for {
		n, err := netio.Read(r.tcpFD, tmp)
		if n > 0 {
			r.tcpInbuf = append(r.tcpInbuf, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				break
			}
			return err
		}
		if n == 0 {
			return errWillQuit
		}
		if n < len(tmp) {
			break
		}
	}

	r.tcpRecvUsec = clock.NowUsec()

	for len(r.tcpInbuf) >= controlLen {
		seq, _, _, _, err := wire.DecodeGapReply(r.tcpInbuf[:controlLen], valueSize)
		if err != nil {
			return ErrProtocolError
		}

		// The leading sequence value itself discriminates the frame kind: a
		// control sequence (heartbeat/will-quit) is never a valid outbound
		// sequence, so only those two values make an 8-byte frame complete
		// on its own; any other value means a full (seq, id, value) reply
		// follows.
		if seq == wire.HeartbeatSeq || seq == wire.WillQuitSeq {
			r.tcpInbuf = r.tcpInbuf[controlLen:]
			if err := r.applyControl(seq); err != nil {
				return err
			}
			continue
		}

		if len(r.tcpInbuf) < replyLen {
			return nil
		}
		_, id, value, _, err := wire.DecodeGapReply(r.tcpInbuf[:replyLen], valueSize)
		if err != nil {
			return ErrProtocolError
		}
		r.tcpInbuf = r.tcpInbuf[replyLen:]
		if err := r.applyGapReply(seq, id, value); err != nil {
			return err
		}
	}

	return nil
}

func (r *Receiver) applyControl(seq int64) error {
	switch seq {
	case wire.WillQuitSeq:
		return errWillQuit
	case wire.HeartbeatSeq:
		return nil // tcpRecvUsec already stamped by the caller
	default:
		return ErrProtocolError
	}
}

func (r *Receiver) applyGapReply(seq, id int64, value []byte) error {
	idx := id - r.store.BaseID()
	if idx < 0 || idx >= int64(len(r.perSlotSeq)) {
		return ErrProtocolError
	}
	if seq <= r.perSlotSeq[idx] {
		return nil // stale; already superseded by a fresher sequence
	}

	if _, err := r.store.Write(id, value, nil); err != nil {
		return err
	}
	r.perSlotSeq[idx] = seq
	return nil
}
