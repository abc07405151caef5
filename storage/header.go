package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// Segment header layout: a fixed-offset binary header where every field
// lives at a constant byte offset, all integers are little-endian, and the
// header carries its own CRC32-C so a half written header (or a stale mmap
// of one) is detectable on Open.
//
// The header also embeds the change queue: the queue's head counter and its
// ring of identifiers are a fixed-offset extension of the same 8-byte-
// aligned fixed prefix. A capacity of 0 means no change queue, but the
// array still reserves max(1, capacity) slots so the layout stays uniform.
const (
	segmentMagic      = "LANCSTR1"
	fileVersionMajor  = 1
	fileVersionMinor  = 0

	offMagic         = 0x000 // [8]byte
	offFileVersion   = 0x008 // uint32 (major<<16 | minor)
	offDataVersion   = 0x00C // uint32
	offHeaderSize    = 0x010 // uint32
	offRecordSize    = 0x014 // uint32
	offValueSize     = 0x018 // uint32
	offPropertySize  = 0x01C // uint32
	offTimestampOff  = 0x020 // uint32
	offValueOff      = 0x024 // uint32
	offPropertyOff   = 0x028 // uint32
	offReservedU32a  = 0x02C // uint32
	offQueueCapacity = 0x030 // uint64
	offBaseID        = 0x038 // int64
	offMaxID         = 0x040 // int64
	offSegmentSize   = 0x048 // uint64
	offCreatedUsec   = 0x050 // int64
	offTouchedRev    = 0x058 // int64, the spin lock guarding offTouchedWord
	offTouchedWord   = 0x060 // int64, the touched timestamp value
	offHeaderCRC32   = 0x068 // uint32
	offReservedU32b  = 0x06C // uint32
	offDescription   = 0x070                             // [descriptionSize]byte
	offQueueHead     = offDescription + descriptionSize   // int64
	offQueueArray    = offQueueHead + 8                   // [capacity]int64

	descriptionSize = 120
)

// header is the decoded, fixed prefix of a Lancaster segment.
type header struct {
	FileVersion   uint32
	DataVersion   uint32
	HeaderSize    uint32
	RecordSize    uint32
	ValueSize     uint32
	PropertySize  uint32
	TimestampOff  uint32
	ValueOff      uint32
	PropertyOff   uint32
	QueueCapacity uint64
	BaseID        int64
	MaxID         int64
	SegmentSize   uint64
	CreatedUsec   int64
	Description   string
}

// align8 rounds x up to the next multiple of 8: all offsets and sizes in
// the header stay aligned to an 8-byte boundary.
func align8(x uint64) uint64 {
	return (x + 7) &^ 7
}

// computeRecordSize implements:
// rec_size = align8(16 + value_size) [+ align8(property_size) if any].
func computeRecordSize(valueSize, propertySize uint32) (recordSize, timestampOff, valueOff, propertyOff uint32) {
	timestampOff = 8
	valueOff = 16
	base := align8(uint64(16) + uint64(valueSize))
	if propertySize == 0 {
		return uint32(base), timestampOff, valueOff, 0
	}
	propertyOff = uint32(base)
	total := base + align8(uint64(propertySize))
	return uint32(total), timestampOff, valueOff, propertyOff
}

// computeHeaderSize implements:
// hdr_size = align8(offsetof(header, change_queue) + sizeof(id) * max(1, q_capacity)).
func computeHeaderSize(queueCapacity uint64) uint64 {
	n := queueCapacity
	if n == 0 {
		n = 1
	}
	return align8(uint64(offQueueArray) + 8*n)
}

// isPowerOfTwoOrZero reports whether n is 0 or a power of two, the only
// valid change-queue capacities.
func isPowerOfTwoOrZero(n uint64) bool {
	return n == 0 || n&(n-1) == 0
}

func encodeHeader(h *header) []byte {
	buf := make([]byte, h.HeaderSize)

	copy(buf[offMagic:], segmentMagic)
	binary.LittleEndian.PutUint32(buf[offFileVersion:], h.FileVersion)
	binary.LittleEndian.PutUint32(buf[offDataVersion:], h.DataVersion)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[offRecordSize:], h.RecordSize)
	binary.LittleEndian.PutUint32(buf[offValueSize:], h.ValueSize)
	binary.LittleEndian.PutUint32(buf[offPropertySize:], h.PropertySize)
	binary.LittleEndian.PutUint32(buf[offTimestampOff:], h.TimestampOff)
	binary.LittleEndian.PutUint32(buf[offValueOff:], h.ValueOff)
	binary.LittleEndian.PutUint32(buf[offPropertyOff:], h.PropertyOff)
	binary.LittleEndian.PutUint64(buf[offQueueCapacity:], h.QueueCapacity)
	binary.LittleEndian.PutUint64(buf[offBaseID:], uint64(h.BaseID))
	binary.LittleEndian.PutUint64(buf[offMaxID:], uint64(h.MaxID))
	binary.LittleEndian.PutUint64(buf[offSegmentSize:], h.SegmentSize)
	binary.LittleEndian.PutUint64(buf[offCreatedUsec:], uint64(h.CreatedUsec))

	desc := h.Description
	if len(desc) > descriptionSize-1 {
		desc = desc[:descriptionSize-1]
	}
	copy(buf[offDescription:], desc)

	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32:], crc)

	return buf
}

func decodeHeader(buf []byte) header {
	var h header
	h.FileVersion = binary.LittleEndian.Uint32(buf[offFileVersion:])
	h.DataVersion = binary.LittleEndian.Uint32(buf[offDataVersion:])
	h.HeaderSize = binary.LittleEndian.Uint32(buf[offHeaderSize:])
	h.RecordSize = binary.LittleEndian.Uint32(buf[offRecordSize:])
	h.ValueSize = binary.LittleEndian.Uint32(buf[offValueSize:])
	h.PropertySize = binary.LittleEndian.Uint32(buf[offPropertySize:])
	h.TimestampOff = binary.LittleEndian.Uint32(buf[offTimestampOff:])
	h.ValueOff = binary.LittleEndian.Uint32(buf[offValueOff:])
	h.PropertyOff = binary.LittleEndian.Uint32(buf[offPropertyOff:])
	h.QueueCapacity = binary.LittleEndian.Uint64(buf[offQueueCapacity:])
	h.BaseID = int64(binary.LittleEndian.Uint64(buf[offBaseID:]))
	h.MaxID = int64(binary.LittleEndian.Uint64(buf[offMaxID:]))
	h.SegmentSize = binary.LittleEndian.Uint64(buf[offSegmentSize:])
	h.CreatedUsec = int64(binary.LittleEndian.Uint64(buf[offCreatedUsec:]))

	desc := buf[offDescription : offDescription+descriptionSize]
	if i := indexByte(desc, 0); i >= 0 {
		desc = desc[:i]
	}
	h.Description = string(desc)

	return h
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// computeHeaderCRC computes CRC32-C over the header's fixed prefix up to the
// change queue, with the touched lock, touched timestamp and CRC fields
// zeroed; those fields and the change queue change after creation.
func computeHeaderCRC(buf []byte) uint32 {
	tmp := make([]byte, offQueueHead)
	copy(tmp, buf[:offQueueHead])
	for i := offTouchedRev; i < offHeaderCRC32+4; i++ {
		tmp[i] = 0
	}
	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

func validateMagicAndCRC(buf []byte) error {
	if string(buf[offMagic:offMagic+8]) != segmentMagic {
		return ErrCorrupt
	}
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32:])
	if stored != computeHeaderCRC(buf) {
		return ErrCorrupt
	}
	return nil
}

func newHeader(baseID, maxID int64, valueSize, propertySize uint32, queueCapacity uint64, dataVersion uint32, description string, createdUsec int64) header {
	recordSize, timestampOff, valueOff, propertyOff := computeRecordSize(valueSize, propertySize)
	headerSize := computeHeaderSize(queueCapacity)

	n := uint64(maxID - baseID)
	segmentSize := headerSize + n*uint64(recordSize)

	return header{
		FileVersion:   fileVersionMajor<<16 | fileVersionMinor,
		DataVersion:   dataVersion,
		HeaderSize:    uint32(headerSize),
		RecordSize:    recordSize,
		ValueSize:     valueSize,
		PropertySize:  propertySize,
		TimestampOff:  timestampOff,
		ValueOff:      valueOff,
		PropertyOff:   propertyOff,
		QueueCapacity: queueCapacity,
		BaseID:        baseID,
		MaxID:         maxID,
		SegmentSize:   segmentSize,
		CreatedUsec:   createdUsec,
		Description:   description,
	}
}
