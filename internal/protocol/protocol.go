package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Packet types
	PacketTypeStart = 0x01 // stream parameters
	PacketTypeAudio = 0x02 // one frame of samples
	PacketTypeEnd   = 0x03 // sender finished, no payload

	HeaderSize       = 8 // 1 + 2 + 4 + 1 bytes
	StartPayloadSize = 8 // sample rate + frame size
	SampleSize       = 4

	// MaxPacketSize is bounded by the 16-bit length field.
	MaxPacketSize = math.MaxUint16
	// MaxFrameSamples is the largest frame a single audio packet can carry.
	MaxFrameSamples = (MaxPacketSize - HeaderSize) / SampleSize
)

// ErrShortPacket is returned when a buffer cannot hold what its header claims.
var ErrShortPacket = errors.New("short packet")

// Header is the 8-byte frame packet header.
// Layout: [PacketType:1][PacketLen:2][Sequence:4][Status:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=End
	PacketLen  uint16 // Total packet size (header + payload)
	Sequence   uint32 // Sender frame counter
	Status     uint8  // Capture status flags of the frame at the sender
}

// StartPayload announces the parameters of the frames that follow.
// Layout: [SampleRate:4][FrameSize:4]
type StartPayload struct {
	SampleRate uint32
	FrameSize  uint32
}

// Packet is a fully parsed frame packet.
type Packet struct {
	Header  *Header
	Start   *StartPayload // Only set for start packets
	Samples []float32     // Only set for audio packets
}

// ParseHeader parses the 8-byte header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d: %w", HeaderSize, len(data), ErrShortPacket)
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Sequence:   binary.BigEndian.Uint32(data[3:7]),
		Status:     data[7],
	}, nil
}

// ParseStartPayload parses the payload of a start packet.
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d: %w",
			StartPayloadSize, len(data), ErrShortPacket)
	}
	return &StartPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		FrameSize:  binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// ParseSamples decodes little-endian float32 samples.
func ParseSamples(data []byte) ([]float32, error) {
	if len(data)%SampleSize != 0 {
		return nil, fmt.Errorf("audio payload length %d is not a multiple of %d", len(data), SampleSize)
	}
	samples := make([]float32, len(data)/SampleSize)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*SampleSize:]))
	}
	return samples, nil
}

// ParsePacket parses a complete packet (header + payload).
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d: %w",
			HeaderSize, len(data), ErrShortPacket)
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) > len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes: %w",
			header.PacketLen, len(data), ErrShortPacket)
	}
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		start, err := ParseStartPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = start

	case PacketTypeAudio:
		samples, err := ParseSamples(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Samples = samples

	case PacketTypeEnd:
	}

	return packet, nil
}

// ValidateHeader validates the header fields.
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize == 0 || payloadSize%SampleSize != 0 {
			return fmt.Errorf("audio packet payload size %d is not a positive multiple of %d",
				payloadSize, SampleSize)
		}
	case PacketTypeEnd:
		if payloadSize != 0 {
			return fmt.Errorf("end packet carries %d unexpected payload bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is known.
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeEnd
}

func putHeader(buf []byte, ptype uint8, seq uint32, status uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], seq)
	buf[7] = status
}

// EncodeStart builds a start packet.
func EncodeStart(seq uint32, sampleRate, frameSize int) ([]byte, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("sample rate and frame size must be positive, got %d and %d", sampleRate, frameSize)
	}
	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, seq, 0)
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(sampleRate))
	binary.BigEndian.PutUint32(buf[HeaderSize+4:], uint32(frameSize))
	return buf, nil
}

// EncodeAudio builds an audio packet carrying one frame.
func EncodeAudio(seq uint32, status uint8, samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty frame")
	}
	if len(samples) > MaxFrameSamples {
		return nil, fmt.Errorf("frame of %d samples exceeds packet limit of %d", len(samples), MaxFrameSamples)
	}
	buf := make([]byte, HeaderSize+len(samples)*SampleSize)
	putHeader(buf, PacketTypeAudio, seq, status)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[HeaderSize+i*SampleSize:], math.Float32bits(s))
	}
	return buf, nil
}

// EncodeEnd builds an end-of-stream packet.
func EncodeEnd(seq uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeEnd, seq, 0)
	return buf
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeEnd:
		packetType = "End"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, Seq:%d, Status:0x%02x}",
		packetType, h.PacketLen, h.Sequence, h.Status)
}

// String returns a human-readable representation of the start payload.
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{SampleRate:%d, FrameSize:%d}", s.SampleRate, s.FrameSize)
}
