package audio

import (
	"fmt"
	"strings"
	"time"
)

// Status carries device condition flags reported alongside a captured frame.
type Status uint8

const (
	// StatusInputOverflow means the device dropped input because it was not
	// read fast enough.
	StatusInputOverflow Status = 1 << iota
	// StatusInputUnderflow means the device delivered less input than
	// expected, for example lost network packets.
	StatusInputUnderflow
)

// StatusOK is the absence of any condition flag.
const StatusOK Status = 0

// String returns a human-readable list of the flags set.
func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	var parts []string
	if s&StatusInputOverflow != 0 {
		parts = append(parts, "input_overflow")
	}
	if s&StatusInputUnderflow != 0 {
		parts = append(parts, "input_underflow")
	}
	if rest := s &^ (StatusInputOverflow | StatusInputUnderflow); rest != 0 {
		parts = append(parts, fmt.Sprintf("unknown(0x%02x)", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// Frame is a fixed-length block of mono float32 samples representing one
// capture interval. A frame is immutable once produced.
type Frame struct {
	Samples    []float32
	SampleRate int
	Sequence   uint64
	CapturedAt time.Time
	Status     Status
}

// Duration returns the time span covered by the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// FrameSize returns the number of samples in a frame of the given duration.
func FrameSize(sampleRate, frameDurationMs int) int {
	return sampleRate * frameDurationMs / 1000
}

// SamplesDuration converts a sample count to a duration.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Utterance is a run of consecutive speech frames, concatenated in capture
// order.
type Utterance struct {
	ID         string    `json:"id"`
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Frames     int       `json:"frames"`
	StartSeq   uint64    `json:"start_seq"`
	EndSeq     uint64    `json:"end_seq"`
	StartTime  time.Time `json:"start_time"`
	Confidence float32   `json:"confidence"` // mean speech probability
}

// Duration returns the audio length of the utterance.
func (u Utterance) Duration() time.Duration {
	return SamplesDuration(len(u.Samples), u.SampleRate)
}
