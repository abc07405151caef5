// Package wire encodes and decodes the on-the-wire messages sender and
// receiver exchange: the TCP greeting sent on accept, multicast data and
// heartbeat datagrams, and the TCP gap-repair frames in both directions.
//
// All multi-byte integers are big-endian, independent of the little-endian
// layout storage uses for its mapped segment; the wire format and the
// on-disk format are unrelated encodings that happen to share a module.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// WireVersionMajor is incremented on any incompatible change to the
	// greeting or frame formats below.
	WireVersionMajor = 1
	WireVersionMinor = 0

	// HeartbeatSeq marks a TCP control frame that only resets the liveness
	// clock.
	HeartbeatSeq int64 = -1

	// WillQuitSeq marks a TCP control frame requesting graceful shutdown.
	WillQuitSeq int64 = -2

	// SequenceMax is the largest sequence a sender may emit; reaching it is
	// fatal (SEQUENCE_OVERFLOW) rather than wrapping.
	SequenceMax int64 = 1<<63 - 1
)

var (
	ErrTruncated    = errors.New("wire: truncated message")
	ErrWrongVersion = errors.New("wire: incompatible major wire version")
)

// Greeting is the newline-delimited handshake a sender sends a receiver
// immediately after accepting its TCP connection.
type Greeting struct {
	WireVersionMajor, WireVersionMinor uint8
	DataVersion                        uint16
	McastAddr                          string
	McastPort                          int
	McastMTU                           int
	BaseID, MaxID                      int64
	ValueSize                          uint32
	QueueCapacity                      uint64
	MaxPktAgeUsec, HeartbeatUsec       int64
	Description                        string
}

// Encode renders g as CRLF-delimited ASCII fields, in the fixed order the
// receiver's parser expects.
func (g Greeting) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\r\n", uint16(g.WireVersionMajor)<<8|uint16(g.WireVersionMinor))
	fmt.Fprintf(&b, "%d\r\n", g.DataVersion)
	fmt.Fprintf(&b, "%s\r\n", g.McastAddr)
	fmt.Fprintf(&b, "%d\r\n", g.McastPort)
	fmt.Fprintf(&b, "%d\r\n", g.McastMTU)
	fmt.Fprintf(&b, "%d\r\n", g.BaseID)
	fmt.Fprintf(&b, "%d\r\n", g.MaxID)
	fmt.Fprintf(&b, "%d\r\n", g.ValueSize)
	fmt.Fprintf(&b, "%d\r\n", g.QueueCapacity)
	fmt.Fprintf(&b, "%d\r\n", g.MaxPktAgeUsec)
	fmt.Fprintf(&b, "%d\r\n", g.HeartbeatUsec)
	fmt.Fprintf(&b, "%s\r\n", g.Description)
	return []byte(b.String())
}

// ParseGreeting reads and decodes a Greeting from r, field by field. The
// caller is responsible for bounding the read with a deadline (e.g.
// SO_RCVTIMEO on the underlying socket) before calling.
func ParseGreeting(r *bufio.Reader) (Greeting, error) {
	var g Greeting

	field := func() (string, error) {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	versionField, err := field()
	if err != nil {
		return g, err
	}
	versionWord, err := strconv.ParseUint(versionField, 10, 16)
	if err != nil {
		return g, fmt.Errorf("%w: wire version: %v", ErrTruncated, err)
	}
	g.WireVersionMajor = uint8(versionWord >> 8)
	g.WireVersionMinor = uint8(versionWord)
	if g.WireVersionMajor != WireVersionMajor {
		return g, ErrWrongVersion
	}

	dataVersion, err := field()
	if err != nil {
		return g, err
	}
	dv, err := strconv.ParseUint(dataVersion, 10, 16)
	if err != nil {
		return g, fmt.Errorf("%w: data version: %v", ErrTruncated, err)
	}
	g.DataVersion = uint16(dv)

	if g.McastAddr, err = field(); err != nil {
		return g, err
	}

	intField := func(name string, bits int) (int64, error) {
		s, err := field()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrTruncated, name, err)
		}
		return v, nil
	}

	port, err := intField("mcast_port", 32)
	if err != nil {
		return g, err
	}
	g.McastPort = int(port)

	mtu, err := intField("mcast_mtu", 32)
	if err != nil {
		return g, err
	}
	g.McastMTU = int(mtu)

	if g.BaseID, err = intField("base_id", 64); err != nil {
		return g, err
	}
	if g.MaxID, err = intField("max_id", 64); err != nil {
		return g, err
	}

	valueSize, err := intField("value_size", 32)
	if err != nil {
		return g, err
	}
	g.ValueSize = uint32(valueSize)

	queueCapacity, err := intField("queue_capacity", 64)
	if err != nil {
		return g, err
	}
	g.QueueCapacity = uint64(queueCapacity)

	if g.MaxPktAgeUsec, err = intField("max_pkt_age_usec", 64); err != nil {
		return g, err
	}
	if g.HeartbeatUsec, err = intField("heartbeat_usec", 64); err != nil {
		return g, err
	}

	if g.Description, err = field(); err != nil {
		return g, err
	}

	return g, nil
}

// DataHeaderLen is the fixed prefix (sequence, send timestamp) of every
// multicast datagram.
const DataHeaderLen = 16

// EncodeMcastHeader writes seq and sendUsec into the first 16 bytes of buf.
// seq is negative for a heartbeat.
func EncodeMcastHeader(buf []byte, seq, sendUsec int64) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	binary.BigEndian.PutUint64(buf[8:16], uint64(sendUsec))
}

// DecodeMcastHeader parses the fixed prefix of a multicast datagram.
func DecodeMcastHeader(buf []byte) (seq, sendUsec int64, err error) {
	if len(buf) < DataHeaderLen {
		return 0, 0, ErrTruncated
	}
	seq = int64(binary.BigEndian.Uint64(buf[0:8]))
	sendUsec = int64(binary.BigEndian.Uint64(buf[8:16]))
	return seq, sendUsec, nil
}

// EncodeMcastEntry appends an (id, value) entry to buf.
func EncodeMcastEntry(buf []byte, id int64, value []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(id))
	copy(buf[8:], value)
}

// DecodeMcastEntry reads a single (id, value) entry of entryLen = 8+valueSize
// bytes from buf.
func DecodeMcastEntry(buf []byte, valueSize uint32) (id int64, value []byte, err error) {
	entryLen := 8 + int(valueSize)
	if len(buf) < entryLen {
		return 0, nil, ErrTruncated
	}
	id = int64(binary.BigEndian.Uint64(buf[0:8]))
	return id, buf[8:entryLen], nil
}

// RangeRequestLen is the size of a receiver→sender sequence-range frame.
const RangeRequestLen = 16

// EncodeRangeRequest writes a [low, high) sequence range request.
func EncodeRangeRequest(buf []byte, low, high int64) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(low))
	binary.BigEndian.PutUint64(buf[8:16], uint64(high))
}

// DecodeRangeRequest parses a [low, high) sequence range request.
func DecodeRangeRequest(buf []byte) (low, high int64, err error) {
	if len(buf) < RangeRequestLen {
		return 0, 0, ErrTruncated
	}
	low = int64(binary.BigEndian.Uint64(buf[0:8]))
	high = int64(binary.BigEndian.Uint64(buf[8:16]))
	return low, high, nil
}

// ControlFrameLen is the size of a bare-sequence sender→receiver control
// frame (heartbeat or will-quit).
const ControlFrameLen = 8

// EncodeControlFrame writes a bare sequence control frame.
func EncodeControlFrame(buf []byte, seq int64) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
}

// GapReplyLen returns the size of a (seq, id, value) gap-reply frame for the
// given value size.
func GapReplyLen(valueSize uint32) int {
	return 8 + 8 + int(valueSize)
}

// EncodeGapReply writes a (seq, id, value) reply frame.
func EncodeGapReply(buf []byte, seq, id int64, value []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	binary.BigEndian.PutUint64(buf[8:16], uint64(id))
	copy(buf[16:], value)
}

// DecodeGapReply parses a (seq, id, value) reply frame, or a bare control
// frame (seq only, id=0 and value=nil) when buf is exactly 8 bytes long.
func DecodeGapReply(buf []byte, valueSize uint32) (seq, id int64, value []byte, isControl bool, err error) {
	if len(buf) == ControlFrameLen {
		return int64(binary.BigEndian.Uint64(buf[0:8])), 0, nil, true, nil
	}
	want := GapReplyLen(valueSize)
	if len(buf) < want {
		return 0, 0, nil, false, ErrTruncated
	}
	seq = int64(binary.BigEndian.Uint64(buf[0:8]))
	id = int64(binary.BigEndian.Uint64(buf[8:16]))
	return seq, id, buf[16:want], false, nil
}
