package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid start header",
			data: []byte{
				0x01,       // PacketType: Start
				0x00, 0x10, // PacketLen: 16 (8 + 8)
				0x00, 0x00, 0x30, 0x39, // Sequence: 12345
				0x00, // Status: ok
			},
			expected: &Header{
				PacketType: PacketTypeStart,
				PacketLen:  16,
				Sequence:   12345,
				Status:     0,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x08, 0x08, // PacketLen: 2056 (8 + 512*4)
				0x12, 0x34, 0x56, 0x78, // Sequence: 305419896
				0x01, // Status: overflow
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  2056,
				Sequence:   305419896,
				Status:     1,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				} else if !errors.Is(err, ErrShortPacket) {
					t.Errorf("Expected ErrShortPacket, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseSamples(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.25))
	binary.LittleEndian.PutUint32(data[8:], math.Float32bits(1))

	samples, err := ParseSamples(data)
	if err != nil {
		t.Fatalf("ParseSamples failed: %v", err)
	}
	want := []float32{0.5, -0.25, 1}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], samples[i])
		}
	}

	if _, err := ParseSamples(data[:5]); err == nil {
		t.Error("Expected error for misaligned payload")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	frame := make([]float32, 512)
	for i := range frame {
		frame[i] = float32(math.Sin(float64(i) / 10))
	}

	data, err := EncodeAudio(42, 0x02, frame)
	if err != nil {
		t.Fatalf("EncodeAudio failed: %v", err)
	}
	if len(data) != HeaderSize+512*SampleSize {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+512*SampleSize, len(data))
	}

	packet, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if packet.Header.PacketType != PacketTypeAudio {
		t.Errorf("Expected audio packet, got %s", packet.Header)
	}
	if packet.Header.Sequence != 42 || packet.Header.Status != 0x02 {
		t.Errorf("Unexpected header %s", packet.Header)
	}
	if len(packet.Samples) != len(frame) {
		t.Fatalf("Expected %d samples, got %d", len(frame), len(packet.Samples))
	}
	for i := range frame {
		if packet.Samples[i] != frame[i] {
			t.Fatalf("Sample %d: expected %f, got %f", i, frame[i], packet.Samples[i])
		}
	}
}

func TestParsePacket(t *testing.T) {
	start, err := EncodeStart(0, 16000, 512)
	if err != nil {
		t.Fatalf("EncodeStart failed: %v", err)
	}

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		short       bool
		validate    func(*Packet) bool
	}{
		{
			name: "valid start packet",
			data: start,
			validate: func(p *Packet) bool {
				return p.Header.PacketType == PacketTypeStart &&
					p.Start != nil &&
					p.Start.SampleRate == 16000 &&
					p.Start.FrameSize == 512 &&
					p.Samples == nil
			},
		},
		{
			name: "valid end packet",
			data: EncodeEnd(99),
			validate: func(p *Packet) bool {
				return p.Header.PacketType == PacketTypeEnd &&
					p.Header.Sequence == 99 &&
					p.Start == nil && p.Samples == nil
			},
		},
		{
			name:        "packet too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "packet too short",
			short:       true,
		},
		{
			name:        "truncated packet",
			data:        start[:12],
			expectError: true,
			errorMsg:    "packet length mismatch",
			short:       true,
		},
		{
			name:        "trailing bytes",
			data:        append(append([]byte{}, start...), 0x00),
			expectError: true,
			errorMsg:    "packet length mismatch",
		},
		{
			name:        "invalid packet type",
			data:        []byte{0x07, 0x00, 0x08, 0, 0, 0, 1, 0},
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name:        "misaligned audio payload",
			data:        []byte{0x02, 0x00, 0x0B, 0, 0, 0, 1, 0, 1, 2, 3},
			expectError: true,
			errorMsg:    "not a positive multiple",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				if errors.Is(err, ErrShortPacket) != tt.short {
					t.Errorf("Expected ErrShortPacket=%v, got %v", tt.short, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      *Header
		expectError bool
	}{
		{"valid start", &Header{PacketType: PacketTypeStart, PacketLen: HeaderSize + StartPayloadSize}, false},
		{"valid audio", &Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + 4*256}, false},
		{"valid end", &Header{PacketType: PacketTypeEnd, PacketLen: HeaderSize}, false},
		{"start wrong size", &Header{PacketType: PacketTypeStart, PacketLen: HeaderSize + 4}, true},
		{"empty audio", &Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize}, true},
		{"end with payload", &Header{PacketType: PacketTypeEnd, PacketLen: HeaderSize + 4}, true},
		{"length below header", &Header{PacketType: PacketTypeEnd, PacketLen: 4}, true},
		{"unknown type", &Header{PacketType: 0x00, PacketLen: HeaderSize}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header)
			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestEncodeInvalid(t *testing.T) {
	if _, err := EncodeAudio(0, 0, nil); err == nil {
		t.Error("Expected error for empty frame")
	}
	if _, err := EncodeAudio(0, 0, make([]float32, MaxFrameSamples+1)); err == nil {
		t.Error("Expected error for oversized frame")
	}
	if _, err := EncodeStart(0, 0, 512); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestStringMethods(t *testing.T) {
	header := &Header{PacketType: PacketTypeAudio, PacketLen: 2056, Sequence: 7, Status: 1}
	expected := "Header{Type:Audio, Len:2056, Seq:7, Status:0x01}"
	if header.String() != expected {
		t.Errorf("Expected %q, got %q", expected, header.String())
	}

	unknown := &Header{PacketType: 0x09}
	if !strings.Contains(unknown.String(), "Unknown(0x09)") {
		t.Errorf("Expected unknown type in %q", unknown.String())
	}

	start := &StartPayload{SampleRate: 16000, FrameSize: 512}
	if start.String() != "StartPayload{SampleRate:16000, FrameSize:512}" {
		t.Errorf("Unexpected start payload string %q", start.String())
	}
}
