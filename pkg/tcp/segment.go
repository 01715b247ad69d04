package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/netprotolab/rtcp/pkg/common"
)

const (
	// HeaderLength is the fixed segment header size in bytes. There are no
	// options in this protocol, so every segment's header is exactly this
	// size, unlike RFC 793 where DataOffset varies.
	HeaderLength = 24

	// DefaultMSS is the default maximum segment size used when none is
	// negotiated out of band.
	DefaultMSS = 5000
)

// Management flags, stored in a single byte in the same bit order as RFC 793
// (CWR/ECE high, FIN low) even though CWR/ECE/URG are carried only for
// layout compatibility and are never set by this implementation.
const (
	FlagCWR uint8 = 1 << 7
	FlagECE uint8 = 1 << 6
	FlagURG uint8 = 1 << 5
	FlagACK uint8 = 1 << 4
	FlagPSH uint8 = 1 << 3
	FlagRST uint8 = 1 << 2
	FlagSYN uint8 = 1 << 1
	FlagFIN uint8 = 1 << 0
)

// Segment is a single wire unit of the protocol: a 24-byte fixed header
// (no options) followed by payload. The header carries no pseudo-header
// fields; the checksum covers the whole segment as sent, since this
// protocol has no IP layer beneath it.
type Segment struct {
	SourcePort      uint16
	DestinationPort uint16
	SequenceNumber  uint32
	AckNumber       uint32
	Flags           uint8
	WindowSize      uint16 // advertised receive window of the sender
	Checksum        uint16
	Data            []byte
}

// NewSegment builds a segment with the given header fields and payload.
func NewSegment(srcPort, dstPort uint16, seqNum, ackNum uint32, flags uint8, window uint16, data []byte) *Segment {
	return &Segment{
		SourcePort:      srcPort,
		DestinationPort: dstPort,
		SequenceNumber:  seqNum,
		AckNumber:       ackNum,
		Flags:           flags,
		WindowSize:      window,
		Data:            data,
	}
}

// Encode serializes the segment to wire bytes and fills in the checksum
// field. The returned buffer is ready to hand to a datagram socket.
func (s *Segment) Encode() []byte {
	buf := make([]byte, HeaderLength+len(s.Data))

	binary.BigEndian.PutUint16(buf[0:2], s.SourcePort)
	binary.BigEndian.PutUint16(buf[2:4], s.DestinationPort)
	binary.BigEndian.PutUint32(buf[4:8], s.SequenceNumber)
	binary.BigEndian.PutUint32(buf[8:12], s.AckNumber)
	buf[12] = (HeaderLength / 4) << 4 // header_len nibble, reserved nibble zero
	buf[13] = s.Flags
	binary.BigEndian.PutUint16(buf[14:16], s.WindowSize)
	// buf[16:18] checksum filled below
	// buf[18:20] urgent pointer: reserved, always zero
	// buf[20:24] options: reserved, always zero
	copy(buf[HeaderLength:], s.Data)

	binary.BigEndian.PutUint16(buf[16:18], 0)
	s.Checksum = common.CalculateChecksum(buf)
	binary.BigEndian.PutUint16(buf[16:18], s.Checksum)

	return buf
}

// Decode parses a segment from raw bytes and verifies its checksum. An error
// is returned both for structurally malformed segments (too short) and for
// a checksum mismatch. Callers distinguish corruption from short reads by
// inspecting the returned segment: a non-nil segment with an error is a
// checksum failure, a nil segment is a framing failure.
func Decode(data []byte) (*Segment, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("segment too short: %d bytes (minimum %d)", len(data), HeaderLength)
	}

	headerLen := int(data[12]>>4) * 4
	if headerLen != HeaderLength {
		return nil, fmt.Errorf("unexpected header length: %d (want %d)", headerLen, HeaderLength)
	}

	seg := &Segment{
		SourcePort:      binary.BigEndian.Uint16(data[0:2]),
		DestinationPort: binary.BigEndian.Uint16(data[2:4]),
		SequenceNumber:  binary.BigEndian.Uint32(data[4:8]),
		AckNumber:       binary.BigEndian.Uint32(data[8:12]),
		Flags:           data[13],
		WindowSize:      binary.BigEndian.Uint16(data[14:16]),
		Checksum:        binary.BigEndian.Uint16(data[16:18]),
	}

	if len(data) > HeaderLength {
		seg.Data = make([]byte, len(data)-HeaderLength)
		copy(seg.Data, data[HeaderLength:])
	}

	if !common.VerifyChecksum(data) {
		return seg, fmt.Errorf("checksum mismatch for segment seq=%d", seg.SequenceNumber)
	}

	return seg, nil
}

// HasFlag reports whether the given flag bit is set.
func (s *Segment) HasFlag(flag uint8) bool {
	return s.Flags&flag != 0
}

// SetFlag sets the given flag bit.
func (s *Segment) SetFlag(flag uint8) {
	s.Flags |= flag
}

// ClearFlag clears the given flag bit.
func (s *Segment) ClearFlag(flag uint8) {
	s.Flags &^= flag
}

// String renders a short debug summary of the segment, mirroring the dense
// flag-letter notation conventional for transport-protocol logging.
func (s *Segment) String() string {
	flags := ""
	for _, f := range []struct {
		bit uint8
		c   string
	}{
		{FlagSYN, "S"}, {FlagACK, "A"}, {FlagFIN, "F"}, {FlagRST, "R"}, {FlagPSH, "P"},
	} {
		if s.HasFlag(f.bit) {
			flags += f.c
		}
	}
	if flags == "" {
		flags = "."
	}
	return fmt.Sprintf("Segment{Src=%d Dst=%d Seq=%d Ack=%d Flags=%s Win=%d Len=%d}",
		s.SourcePort, s.DestinationPort, s.SequenceNumber, s.AckNumber, flags, s.WindowSize, len(s.Data))
}
