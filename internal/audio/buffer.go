package audio

import (
	"time"

	"github.com/google/uuid"
)

// Buffer accumulates speech frames until the segmenter decides the utterance
// is complete. It is owned by a single goroutine and is not safe for
// concurrent use.
type Buffer struct {
	sampleRate int
	frames     []Frame
	samples    int
	probSum    float64
}

// NewBuffer creates an empty speech buffer for audio at sampleRate.
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{sampleRate: sampleRate}
}

// Append adds a speech frame and the probability that classified it.
func (b *Buffer) Append(frame Frame, probability float32) {
	b.frames = append(b.frames, frame)
	b.samples += len(frame.Samples)
	b.probSum += float64(probability)
}

// Empty reports whether no frame has been buffered.
func (b *Buffer) Empty() bool {
	return len(b.frames) == 0
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	return len(b.frames)
}

// Samples returns the number of buffered samples.
func (b *Buffer) Samples() int {
	return b.samples
}

// Duration returns the buffered audio length.
func (b *Buffer) Duration() time.Duration {
	return SamplesDuration(b.samples, b.sampleRate)
}

// Flush concatenates the buffered frames into an utterance and clears the
// buffer. Flushing an empty buffer returns ok=false.
func (b *Buffer) Flush() (Utterance, bool) {
	if b.Empty() {
		return Utterance{}, false
	}

	samples := make([]float32, 0, b.samples)
	for _, f := range b.frames {
		samples = append(samples, f.Samples...)
	}

	first, last := b.frames[0], b.frames[len(b.frames)-1]
	u := Utterance{
		ID:         uuid.NewString(),
		Samples:    samples,
		SampleRate: b.sampleRate,
		Frames:     len(b.frames),
		StartSeq:   first.Sequence,
		EndSeq:     last.Sequence,
		StartTime:  first.CapturedAt,
		Confidence: float32(b.probSum / float64(len(b.frames))),
	}

	b.Reset()
	return u, true
}

// Reset drops all buffered frames.
func (b *Buffer) Reset() {
	b.frames = nil
	b.samples = 0
	b.probSum = 0
}
