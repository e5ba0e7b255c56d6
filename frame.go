package quicly

import (
	"encoding/binary"

	"draftquic.dev/quicly/internal/protocol"
	"draftquic.dev/quicly/internal/qerr"
)

// Frame type bytes, matching draft-ietf-quic-transport-05's frame type
// table (the draft this engine's FNV/packet-number layout is also drawn
// from): a handful of fixed single-byte types below the ACK/STREAM
// families, which instead occupy a range of the type byte with flag bits
// packed into the low bits.
const (
	frameTypePadding         = 0x00
	frameTypeRstStream       = 0x01
	frameTypeMaxData         = 0x04
	frameTypeMaxStreamData   = 0x05
	frameTypeStopSending     = 0x0c
	frameTypeAckBase         = 0xa0
	frameTypeAckMax          = 0xbf
	frameTypeStreamBase      = 0xc0
	frameTypeStreamFINBit    = 0x20
	frameTypeStreamLenBit    = 0x10
	frameTypeStreamOffWidths = 0x0c
	frameTypeStreamIDWidths  = 0x03
)

// FrameType identifies which frame a decoded Frame carries.
type FrameType int

const (
	FramePadding FrameType = iota
	FrameRstStream
	FrameStopSending
	FrameMaxData
	FrameMaxStreamData
	FrameAck
	FrameStream
)

// RstStreamFrame carries an application error code ending a stream's send
// side.
type RstStreamFrame struct {
	StreamID    protocol.StreamID
	ErrorCode   uint32
	FinalOffset uint64
}

// StopSendingFrame asks the peer to reset its send side.
type StopSendingFrame struct {
	StreamID  protocol.StreamID
	ErrorCode uint32
}

// MaxDataFrame advertises a new connection-level receive window.
type MaxDataFrame struct {
	MaximumData uint64
}

// MaxStreamDataFrame advertises a new per-stream receive window.
type MaxStreamDataFrame struct {
	StreamID          protocol.StreamID
	MaximumStreamData uint64
}

// AckFrame carries the acknowledged packet-number ranges as an ascending,
// disjoint list of inclusive [Smallest,Largest] ranges, already
// reconstructed from the wire's descending largest-acknowledged/gap/
// block-length encoding.
type AckFrame struct {
	LargestAcknowledged protocol.PacketNumber
	AckDelay            uint64
	Ranges              []AckRange
}

// AckRange is one acknowledged packet-number interval; both Smallest and
// Largest are included.
type AckRange struct {
	Smallest, Largest protocol.PacketNumber
}

// StreamFrame carries a contiguous range of one stream's byte stream.
type StreamFrame struct {
	StreamID protocol.StreamID
	Offset   uint64
	Data     []byte
	Fin      bool
}

// varWidth returns the minimal byte width (1, 2, 4 or 8) needed to
// represent v, or 0 when v is 0, following the "minimal bytes to cover the
// value" rule spec'd for STREAM frame field-length selection.
func varWidth(v uint64) int {
	switch {
	case v == 0:
		return 0
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

func putUintN(dst []byte, v uint64, width int) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(dst, v)
	}
}

func getUintN(src []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(src[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(src))
	case 4:
		return uint64(binary.BigEndian.Uint32(src))
	case 8:
		return binary.BigEndian.Uint64(src)
	default:
		return 0
	}
}

// EncodeRstStreamFrame appends an RST_STREAM frame to dst.
func EncodeRstStreamFrame(dst []byte, f RstStreamFrame) []byte {
	dst = append(dst, frameTypeRstStream)
	var streamIDBuf [4]byte
	binary.BigEndian.PutUint32(streamIDBuf[:], uint32(f.StreamID))
	dst = append(dst, streamIDBuf[:]...)
	var errBuf [4]byte
	binary.BigEndian.PutUint32(errBuf[:], f.ErrorCode)
	dst = append(dst, errBuf[:]...)
	var offBuf [8]byte
	binary.BigEndian.PutUint64(offBuf[:], f.FinalOffset)
	dst = append(dst, offBuf[:]...)
	return dst
}

// DecodeRstStreamFrame decodes an RST_STREAM frame body (src starts right
// after the type byte) and returns the number of bytes consumed.
func DecodeRstStreamFrame(src []byte) (RstStreamFrame, int, error) {
	const size = 4 + 4 + 8
	if len(src) < size {
		return RstStreamFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "RST_STREAM truncated")
	}
	f := RstStreamFrame{
		StreamID:    protocol.StreamID(binary.BigEndian.Uint32(src[0:4])),
		ErrorCode:   binary.BigEndian.Uint32(src[4:8]),
		FinalOffset: binary.BigEndian.Uint64(src[8:16]),
	}
	return f, size, nil
}

// EncodeStopSendingFrame appends a STOP_SENDING frame to dst.
func EncodeStopSendingFrame(dst []byte, f StopSendingFrame) []byte {
	dst = append(dst, frameTypeStopSending)
	var streamIDBuf [4]byte
	binary.BigEndian.PutUint32(streamIDBuf[:], uint32(f.StreamID))
	dst = append(dst, streamIDBuf[:]...)
	var errBuf [4]byte
	binary.BigEndian.PutUint32(errBuf[:], f.ErrorCode)
	dst = append(dst, errBuf[:]...)
	return dst
}

// DecodeStopSendingFrame decodes a STOP_SENDING frame body.
func DecodeStopSendingFrame(src []byte) (StopSendingFrame, int, error) {
	const size = 4 + 4
	if len(src) < size {
		return StopSendingFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "STOP_SENDING truncated")
	}
	f := StopSendingFrame{
		StreamID:  protocol.StreamID(binary.BigEndian.Uint32(src[0:4])),
		ErrorCode: binary.BigEndian.Uint32(src[4:8]),
	}
	return f, size, nil
}

// EncodeMaxDataFrame appends a MAX_DATA frame to dst.
func EncodeMaxDataFrame(dst []byte, f MaxDataFrame) []byte {
	dst = append(dst, frameTypeMaxData)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], f.MaximumData)
	return append(dst, buf[:]...)
}

// DecodeMaxDataFrame decodes a MAX_DATA frame body.
func DecodeMaxDataFrame(src []byte) (MaxDataFrame, int, error) {
	if len(src) < 8 {
		return MaxDataFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "MAX_DATA truncated")
	}
	return MaxDataFrame{MaximumData: binary.BigEndian.Uint64(src[:8])}, 8, nil
}

// EncodeMaxStreamDataFrame appends a MAX_STREAM_DATA frame to dst.
func EncodeMaxStreamDataFrame(dst []byte, f MaxStreamDataFrame) []byte {
	dst = append(dst, frameTypeMaxStreamData)
	var streamIDBuf [4]byte
	binary.BigEndian.PutUint32(streamIDBuf[:], uint32(f.StreamID))
	dst = append(dst, streamIDBuf[:]...)
	var valBuf [8]byte
	binary.BigEndian.PutUint64(valBuf[:], f.MaximumStreamData)
	return append(dst, valBuf[:]...)
}

// DecodeMaxStreamDataFrame decodes a MAX_STREAM_DATA frame body.
func DecodeMaxStreamDataFrame(src []byte) (MaxStreamDataFrame, int, error) {
	const size = 4 + 8
	if len(src) < size {
		return MaxStreamDataFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "MAX_STREAM_DATA truncated")
	}
	f := MaxStreamDataFrame{
		StreamID:          protocol.StreamID(binary.BigEndian.Uint32(src[0:4])),
		MaximumStreamData: binary.BigEndian.Uint64(src[4:12]),
	}
	return f, size, nil
}

// EncodeStreamFrame appends a STREAM frame to dst, choosing the minimal
// stream-id and offset field widths the data's magnitudes allow.
func EncodeStreamFrame(dst []byte, f StreamFrame) []byte {
	idWidth := varWidth(uint64(f.StreamID))
	if idWidth == 0 {
		idWidth = 1
	}
	offWidth := varWidth(f.Offset)
	if offWidth == 1 {
		offWidth = 2
	}

	typeByte := byte(frameTypeStreamBase)
	if f.Fin {
		typeByte |= frameTypeStreamFINBit
	}
	typeByte |= frameTypeStreamLenBit // data length is always present
	typeByte |= encodeOffsetWidthBits(offWidth)
	typeByte |= byte(idWidth - 1)

	dst = append(dst, typeByte)

	idBuf := make([]byte, idWidth)
	putUintN(idBuf, uint64(f.StreamID), idWidth)
	dst = append(dst, idBuf...)

	if offWidth > 0 {
		offBuf := make([]byte, offWidth)
		putUintN(offBuf, f.Offset, offWidth)
		dst = append(dst, offBuf...)
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.Data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, f.Data...)
	return dst
}

func encodeOffsetWidthBits(width int) byte {
	switch width {
	case 0:
		return 0x00
	case 2:
		return 0x04
	case 4:
		return 0x08
	case 8:
		return 0x0c
	default:
		return 0x0c
	}
}

func decodeOffsetWidth(bits byte) int {
	switch bits {
	case 0x00:
		return 0
	case 0x04:
		return 2
	case 0x08:
		return 4
	default:
		return 8
	}
}

// DecodeStreamFrame decodes a STREAM frame given its type byte (already
// consumed by the caller) and the remaining bytes. It validates that every
// asserted field width actually fits in what remains of the buffer.
func DecodeStreamFrame(typeByte byte, src []byte) (StreamFrame, int, error) {
	f := StreamFrame{Fin: typeByte&frameTypeStreamFINBit != 0}
	hasLen := typeByte&frameTypeStreamLenBit != 0
	offWidth := decodeOffsetWidth(typeByte & frameTypeStreamOffWidths)
	idWidth := int(typeByte&frameTypeStreamIDWidths) + 1

	off := 0
	if len(src) < idWidth {
		return StreamFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "STREAM id truncated")
	}
	f.StreamID = protocol.StreamID(getUintN(src[off:off+idWidth], idWidth))
	off += idWidth

	if offWidth > 0 {
		if len(src) < off+offWidth {
			return StreamFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "STREAM offset truncated")
		}
		f.Offset = getUintN(src[off:off+offWidth], offWidth)
		off += offWidth
	}

	var dataLen int
	if hasLen {
		if len(src) < off+2 {
			return StreamFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "STREAM length truncated")
		}
		dataLen = int(binary.BigEndian.Uint16(src[off : off+2]))
		off += 2
	} else {
		dataLen = len(src) - off
	}

	if len(src) < off+dataLen {
		return StreamFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "STREAM data truncated")
	}
	f.Data = src[off : off+dataLen]
	off += dataLen

	return f, off, nil
}

// ackWidthBits/ackWidthFromBits pack one of the four field widths
// (1/2/4/8 bytes) into a 2-bit selector, the same "minimal width chosen,
// selector packed into the type byte" idiom EncodeStreamFrame/
// decodeOffsetWidth use for STREAM's offset field.
func ackWidthBits(width int) byte {
	switch width {
	case 1:
		return 0x0
	case 2:
		return 0x1
	case 4:
		return 0x2
	default:
		return 0x3
	}
}

func ackWidthFromBits(bits byte) int {
	switch bits & 0x3 {
	case 0x0:
		return 1
	case 0x1:
		return 2
	case 0x2:
		return 4
	default:
		return 8
	}
}

// ackFieldWidth is varWidth with a floor of 1: unlike STREAM's offset
// field, a zero-valued ACK field (an ack delay of 0, or packet number 0)
// still needs a byte on the wire since there is no "field absent" bit for
// it the way offset has frameTypeStreamOffWidths' zero case.
func ackFieldWidth(v uint64) int {
	if w := varWidth(v); w != 0 {
		return w
	}
	return 1
}

// EncodeAckFrame appends an ACK frame to dst. ranges must be ascending and
// disjoint (as produced by rangeset.Set.Ranges); the wire format walks
// them from the largest range down to the smallest, the gap between
// consecutive ranges and each range's length, mirroring handle_ack_frame's
// descending gap/block walk in reverse. Per spec.md §4.2, every field's
// width is chosen minimally: the largest-acknowledged field and every
// block-length field (sized together, to the widest block present) each
// get a 2-bit width selector packed into the low bits of the 0xa0-0xbf
// type byte, alongside a 1-bit selector for the gap fields; the ack delay
// has no spare type-byte bits left for it, so it is instead self-describing
// on the wire via a 1-byte width prefix ahead of its value.
func EncodeAckFrame(dst []byte, ranges []AckRange, ackDelay uint64) []byte {
	n := len(ranges)
	largest := ranges[n-1].Largest
	lastBlockLen := uint64(ranges[n-1].Largest) - uint64(ranges[n-1].Smallest) + 1

	largestWidth := ackFieldWidth(uint64(largest))
	blockWidth := ackFieldWidth(lastBlockLen)
	maxGap := uint64(0)
	for i := n - 2; i >= 0; i-- {
		gap := uint64(ranges[i+1].Smallest) - uint64(ranges[i].Largest) - 1
		if gap > maxGap {
			maxGap = gap
		}
		if blockLen := uint64(ranges[i].Largest) - uint64(ranges[i].Smallest) + 1; ackFieldWidth(blockLen) > blockWidth {
			blockWidth = ackFieldWidth(blockLen)
		}
	}
	gapWidth := 1
	if maxGap > 0xff {
		gapWidth = 2
	}

	typeByte := byte(frameTypeAckBase)
	typeByte |= ackWidthBits(largestWidth) << 3
	typeByte |= ackWidthBits(blockWidth) << 1
	if gapWidth == 2 {
		typeByte |= 0x1
	}
	dst = append(dst, typeByte)

	largestBuf := make([]byte, largestWidth)
	putUintN(largestBuf, uint64(largest), largestWidth)
	dst = append(dst, largestBuf...)

	delayWidth := ackFieldWidth(ackDelay)
	dst = append(dst, byte(delayWidth))
	delayBuf := make([]byte, delayWidth)
	putUintN(delayBuf, ackDelay, delayWidth)
	dst = append(dst, delayBuf...)

	numGaps := n - 1
	dst = append(dst, byte(numGaps))

	blockBuf := make([]byte, blockWidth)
	putUintN(blockBuf, lastBlockLen, blockWidth)
	dst = append(dst, blockBuf...)

	gapBuf := make([]byte, gapWidth)
	for i := n - 2; i >= 0; i-- {
		gap := uint64(ranges[i+1].Smallest) - uint64(ranges[i].Largest) - 1
		blockLen := uint64(ranges[i].Largest) - uint64(ranges[i].Smallest) + 1

		putUintN(gapBuf, gap, gapWidth)
		dst = append(dst, gapBuf...)

		putUintN(blockBuf, blockLen, blockWidth)
		dst = append(dst, blockBuf...)
	}

	return dst
}

// DecodeAckFrame decodes an ACK frame given its type byte (already consumed
// by the caller, carrying the largest/block/gap width selectors) and the
// remaining body bytes, into ascending, disjoint ranges. Returns the number
// of body bytes consumed.
func DecodeAckFrame(typeByte byte, src []byte) (AckFrame, int, error) {
	largestWidth := ackWidthFromBits(typeByte >> 3)
	blockWidth := ackWidthFromBits(typeByte >> 1)
	gapWidth := 1
	if typeByte&0x1 != 0 {
		gapWidth = 2
	}

	off := 0
	if len(src) < largestWidth+1 {
		return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK truncated")
	}
	largest := protocol.PacketNumber(getUintN(src[off:off+largestWidth], largestWidth))
	off += largestWidth

	delayWidth := int(src[off])
	off++
	if len(src) < off+delayWidth+1 {
		return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK truncated")
	}
	ackDelay := getUintN(src[off:off+delayWidth], delayWidth)
	off += delayWidth

	numGaps := int(src[off])
	off++
	if len(src) < off+blockWidth {
		return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK truncated")
	}
	firstBlockLen := getUintN(src[off:off+blockWidth], blockWidth)
	off += blockWidth
	if firstBlockLen == 0 {
		return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK first block length is zero")
	}

	ranges := make([]AckRange, 0, numGaps+1)
	ranges = append(ranges, AckRange{
		Smallest: protocol.PacketNumber(uint64(largest) - firstBlockLen + 1),
		Largest:  largest,
	})

	smallestSoFar := ranges[0].Smallest
	for i := 0; i < numGaps; i++ {
		if len(src) < off+gapWidth+blockWidth {
			return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK gap/block truncated")
		}
		gap := getUintN(src[off:off+gapWidth], gapWidth)
		off += gapWidth
		blockLen := getUintN(src[off:off+blockWidth], blockWidth)
		off += blockWidth
		if blockLen == 0 {
			return AckFrame{}, 0, qerr.Error(qerr.InvalidFrameData, "ACK block length is zero")
		}
		largestOfBlock := uint64(smallestSoFar) - gap - 1
		smallest := largestOfBlock - blockLen + 1
		ranges = append(ranges, AckRange{
			Smallest: protocol.PacketNumber(smallest),
			Largest:  protocol.PacketNumber(largestOfBlock),
		})
		smallestSoFar = protocol.PacketNumber(smallest)
	}

	// ranges was built newest-to-oldest; reverse to ascending order.
	for i, j := 0, len(ranges)-1; i < j; i, j = i+1, j-1 {
		ranges[i], ranges[j] = ranges[j], ranges[i]
	}

	return AckFrame{LargestAcknowledged: largest, AckDelay: ackDelay, Ranges: ranges}, off, nil
}

// PeekFrameType reports which frame family a type byte belongs to,
// without consuming any bytes.
func PeekFrameType(typeByte byte) FrameType {
	switch {
	case typeByte == frameTypePadding:
		return FramePadding
	case typeByte == frameTypeRstStream:
		return FrameRstStream
	case typeByte == frameTypeStopSending:
		return FrameStopSending
	case typeByte == frameTypeMaxData:
		return FrameMaxData
	case typeByte == frameTypeMaxStreamData:
		return FrameMaxStreamData
	case typeByte >= frameTypeAckBase && typeByte <= frameTypeAckMax:
		return FrameAck
	case typeByte >= frameTypeStreamBase:
		return FrameStream
	default:
		return FramePadding
	}
}
