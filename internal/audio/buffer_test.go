package audio

import (
	"testing"
	"time"
)

func makeFrame(seq uint64, value float32, size int) Frame {
	samples := make([]float32, size)
	for i := range samples {
		samples[i] = value
	}
	return Frame{
		Samples:    samples,
		SampleRate: 16000,
		Sequence:   seq,
		CapturedAt: time.Unix(0, 0).Add(time.Duration(seq) * 32 * time.Millisecond),
	}
}

func TestNewBuffer(t *testing.T) {
	buffer := NewBuffer(16000)

	if !buffer.Empty() {
		t.Error("Expected new buffer to be empty")
	}
	if buffer.Len() != 0 {
		t.Errorf("Expected 0 frames, got %d", buffer.Len())
	}
	if buffer.Samples() != 0 {
		t.Errorf("Expected 0 samples, got %d", buffer.Samples())
	}
	if _, ok := buffer.Flush(); ok {
		t.Error("Expected flush of empty buffer to report no utterance")
	}
}

func TestBufferFlushConcatenatesInOrder(t *testing.T) {
	buffer := NewBuffer(16000)
	buffer.Append(makeFrame(5, 0.1, 512), 0.6)
	buffer.Append(makeFrame(6, 0.2, 512), 0.8)
	buffer.Append(makeFrame(7, 0.3, 512), 1.0)

	if buffer.Len() != 3 {
		t.Errorf("Expected 3 frames, got %d", buffer.Len())
	}
	if buffer.Duration() != 96*time.Millisecond {
		t.Errorf("Expected 96ms buffered, got %v", buffer.Duration())
	}

	u, ok := buffer.Flush()
	if !ok {
		t.Fatal("Expected an utterance")
	}

	if len(u.Samples) != 3*512 {
		t.Fatalf("Expected %d samples, got %d", 3*512, len(u.Samples))
	}
	if u.Samples[0] != 0.1 || u.Samples[512] != 0.2 || u.Samples[1024] != 0.3 {
		t.Error("Expected frames concatenated in append order")
	}
	if u.StartSeq != 5 || u.EndSeq != 7 {
		t.Errorf("Expected sequence range 5-7, got %d-%d", u.StartSeq, u.EndSeq)
	}
	if u.Frames != 3 {
		t.Errorf("Expected 3 frames, got %d", u.Frames)
	}
	if u.ID == "" {
		t.Error("Expected utterance ID to be set")
	}
	if d := u.Confidence - 0.8; d > 1e-6 || d < -1e-6 {
		t.Errorf("Expected mean confidence 0.8, got %f", u.Confidence)
	}
	if u.StartTime != time.Unix(0, 0).Add(5*32*time.Millisecond) {
		t.Errorf("Unexpected start time %v", u.StartTime)
	}

	if !buffer.Empty() || buffer.Samples() != 0 {
		t.Error("Expected buffer cleared after flush")
	}
}

func TestBufferFlushIDsAreUnique(t *testing.T) {
	buffer := NewBuffer(16000)

	buffer.Append(makeFrame(1, 0.1, 16), 0.9)
	first, _ := buffer.Flush()
	buffer.Append(makeFrame(2, 0.1, 16), 0.9)
	second, _ := buffer.Flush()

	if first.ID == second.ID {
		t.Errorf("Expected unique utterance IDs, got %s twice", first.ID)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInputOverflow, "input_overflow"},
		{StatusInputUnderflow, "input_underflow"},
		{StatusInputOverflow | StatusInputUnderflow, "input_overflow|input_underflow"},
		{Status(0x80), "unknown(0x80)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(16000, 32); got != 512 {
		t.Errorf("Expected 512, got %d", got)
	}
	if got := FrameSize(8000, 32); got != 256 {
		t.Errorf("Expected 256, got %d", got)
	}
	if got := FrameSize(48000, 32); got != 1536 {
		t.Errorf("Expected 1536, got %d", got)
	}
	f := makeFrame(0, 0, 512)
	if f.Duration() != 32*time.Millisecond {
		t.Errorf("Expected 32ms frame, got %v", f.Duration())
	}
}
