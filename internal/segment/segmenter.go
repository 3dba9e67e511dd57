package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/stage"
	"github.com/Drakrig/whisper-vad/internal/vad"
)

// Classifier returns the speech probability of one frame. *vad.Detector
// implements it.
type Classifier interface {
	Probability(samples []float32, sampleRate int) (float32, error)
}

// Config holds the segmentation parameters. It is read-only after the
// Segmenter is built.
type Config struct {
	SampleRate           int
	FrameDurationMs      int
	MaxSilenceDurationMs int
	Threshold            float32
	// StallWarnAfter is the number of consecutive push timeouts after which
	// a full utterance queue is reported.
	StallWarnAfter int
}

// Validate checks the segmentation parameters.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("frame duration must be positive, got %d", c.FrameDurationMs)
	}
	if c.MaxSilenceDurationMs < 0 {
		return fmt.Errorf("max silence duration cannot be negative, got %d", c.MaxSilenceDurationMs)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}
	return nil
}

// ChunkLimit is the number of consecutive silent frames tolerated inside an
// utterance. One more ends it.
func (c Config) ChunkLimit() int {
	return c.MaxSilenceDurationMs / c.FrameDurationMs
}

// Stats is a snapshot of segmenter counters.
type Stats struct {
	Frames         uint64 `json:"frames"`
	SpeechFrames   uint64 `json:"speech_frames"`
	Utterances     uint64 `json:"utterances"`
	VADErrors      uint64 `json:"vad_errors"`
	BufferedFrames int64  `json:"buffered_frames"`
}

// Segmenter is the middle pipeline stage.
type Segmenter struct {
	stage.Base

	cfg        Config
	chunkLimit int
	vad        Classifier
	in         <-chan audio.Frame
	out        chan<- audio.Utterance
	wake       *stage.Notifier
	metrics    *metrics.Metrics

	// owned by the Run goroutine
	buffer       *audio.Buffer
	silenceCount int

	frames       atomic.Uint64
	speechFrames atomic.Uint64
	utterances   atomic.Uint64
	vadErrors    atomic.Uint64
	buffered     atomic.Int64
}

// New builds a Segmenter reading frames from in and writing utterances to
// out. wake is notified once per emitted utterance. m may be nil.
func New(base stage.Base, cfg Config, classifier Classifier, in <-chan audio.Frame, out chan<- audio.Utterance, wake *stage.Notifier, m *metrics.Metrics) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	if classifier == nil {
		return nil, fmt.Errorf("segmenter requires a VAD classifier")
	}
	if in == nil || out == nil {
		return nil, fmt.Errorf("segmenter requires input and output channels")
	}
	if wake == nil {
		return nil, fmt.Errorf("segmenter requires a wake notifier")
	}

	return &Segmenter{
		Base:       base,
		cfg:        cfg,
		chunkLimit: cfg.ChunkLimit(),
		vad:        classifier,
		in:         in,
		out:        out,
		wake:       wake,
		metrics:    m,
		buffer:     audio.NewBuffer(cfg.SampleRate),
	}, nil
}

// Run implements stage.Stage.
func (s *Segmenter) Run() error {
	s.Logger().Info("Segmenter started",
		slog.Int("chunk_limit", s.chunkLimit),
		slog.Float64("threshold", float64(s.cfg.Threshold)))
	return s.Loop(s.step)
}

func (s *Segmenter) step() error {
	frame, err := stage.Pop(s.in, s.PollTimeout())
	switch {
	case errors.Is(err, stage.ErrClosed):
		return s.drain()
	case err != nil:
		return err
	}
	return s.process(frame)
}

func (s *Segmenter) process(frame audio.Frame) error {
	s.frames.Add(1)

	rate := frame.SampleRate
	if rate == 0 {
		rate = s.cfg.SampleRate
	}

	start := time.Now()
	p, err := s.vad.Probability(frame.Samples, rate)
	if err != nil {
		if errors.Is(err, vad.ErrContractViolation) {
			return fmt.Errorf("frame %d rejected by VAD: %w", frame.Sequence, err)
		}
		s.vadErrors.Add(1)
		s.metrics.RecordVADError()
		s.Logger().Warn("VAD inference failed, skipping frame",
			slog.Uint64("sequence", frame.Sequence),
			slog.String("error", err.Error()))
		return nil
	}

	speech := p > s.cfg.Threshold
	s.metrics.RecordVADInference(speech, time.Since(start).Seconds())

	if speech {
		s.speechFrames.Add(1)
		s.buffer.Append(frame, p)
		s.buffered.Store(int64(s.buffer.Len()))
		s.silenceCount = 0
		return nil
	}

	s.silenceCount++
	if s.silenceCount <= s.chunkLimit {
		return nil
	}
	s.silenceCount = 0
	if s.buffer.Empty() {
		return nil
	}
	return s.emit()
}

// emit flushes the buffer into an utterance, queues it and wakes the
// transcriber.
func (s *Segmenter) emit() error {
	u, ok := s.buffer.Flush()
	s.buffered.Store(0)
	if !ok {
		return nil
	}

	err := stage.PushUntilStopped(s.out, u, s.PollTimeout(), s.Stop(), func(attempt int) {
		s.metrics.RecordSegmenterStall()
		if s.cfg.StallWarnAfter > 0 && attempt%s.cfg.StallWarnAfter == 0 {
			s.Logger().Warn("Utterance queue full, transcriber is stalled",
				slog.String("utterance_id", u.ID),
				slog.Int("attempts", attempt))
		}
	})
	if err != nil {
		s.Logger().Warn("Dropping utterance on shutdown",
			slog.String("utterance_id", u.ID),
			slog.Duration("duration", u.Duration()))
		return err
	}

	s.utterances.Add(1)
	s.metrics.RecordUtterance(u.Duration().Seconds(), float64(u.Confidence))
	s.wake.Notify()

	s.Logger().Info("Utterance emitted",
		slog.String("utterance_id", u.ID),
		slog.Int("frames", u.Frames),
		slog.Duration("duration", u.Duration()),
		slog.Uint64("start_seq", u.StartSeq),
		slog.Uint64("end_seq", u.EndSeq))
	return nil
}

// drain handles end of input: the pending speech becomes a final utterance
// and the output is closed so the transcriber can finish.
func (s *Segmenter) drain() error {
	if !s.buffer.Empty() {
		if err := s.emit(); err != nil {
			return err
		}
	}
	close(s.out)
	s.wake.Notify()
	return stage.ErrDone
}

// GetStats returns current segmenter statistics.
func (s *Segmenter) GetStats() Stats {
	return Stats{
		Frames:         s.frames.Load(),
		SpeechFrames:   s.speechFrames.Load(),
		Utterances:     s.utterances.Load(),
		VADErrors:      s.vadErrors.Load(),
		BufferedFrames: s.buffered.Load(),
	}
}
