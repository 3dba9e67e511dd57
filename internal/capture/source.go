package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/stage"
)

// SourceStats is a snapshot of frame source counters.
type SourceStats struct {
	Device       string `json:"device"`
	Frames       uint64 `json:"frames"`
	Stalls       uint64 `json:"stalls"`
	StatusEvents uint64 `json:"status_events"`
}

// Source is the first pipeline stage. It reads one frame per device read
// and pushes it downstream, blocking under backpressure rather than
// dropping.
type Source struct {
	stage.Base

	device         Device
	out            chan<- audio.Frame
	stallWarnAfter int
	metrics        *metrics.Metrics

	frames       atomic.Uint64
	stalls       atomic.Uint64
	statusEvents atomic.Uint64
}

// NewSource builds a frame source reading from an opened device. A stalled
// segmenter is reported every stallWarnAfter consecutive push timeouts.
// m may be nil.
func NewSource(base stage.Base, device Device, out chan<- audio.Frame, stallWarnAfter int, m *metrics.Metrics) (*Source, error) {
	if device == nil {
		return nil, fmt.Errorf("frame source requires a capture device")
	}
	if out == nil {
		return nil, fmt.Errorf("frame source requires an output channel")
	}
	if stallWarnAfter <= 0 {
		stallWarnAfter = 1
	}
	return &Source{
		Base:           base,
		device:         device,
		out:            out,
		stallWarnAfter: stallWarnAfter,
		metrics:        m,
	}, nil
}

// Run implements stage.Stage.
func (s *Source) Run() error {
	s.Logger().Info("Frame source started", slog.String("device", s.device.Name()))
	return s.Loop(s.step)
}

func (s *Source) step() error {
	frame, err := s.device.ReadFrame(s.PollTimeout())
	switch {
	case errors.Is(err, ErrEndOfStream):
		s.Logger().Info("Capture device exhausted", slog.Uint64("frames", s.frames.Load()))
		close(s.out)
		return stage.ErrDone
	case err != nil:
		return err
	}

	s.frames.Add(1)
	s.metrics.RecordFrame(frame.Status.String(), frame.Status != audio.StatusOK)
	if frame.Status != audio.StatusOK {
		s.statusEvents.Add(1)
		s.Logger().Warn("Capture device reported status",
			slog.String("status", frame.Status.String()),
			slog.Uint64("sequence", frame.Sequence))
	}

	return stage.PushUntilStopped(s.out, frame, s.PollTimeout(), s.Stop(), func(attempt int) {
		s.stalls.Add(1)
		s.metrics.RecordSourceStall()
		if attempt%s.stallWarnAfter == 0 {
			s.Logger().Warn("Frame queue full, segmenter is stalled",
				slog.Uint64("sequence", frame.Sequence),
				slog.Int("attempts", attempt))
		}
	})
}

// GetStats returns current frame source statistics.
func (s *Source) GetStats() SourceStats {
	return SourceStats{
		Device:       s.device.Name(),
		Frames:       s.frames.Load(),
		Stalls:       s.stalls.Load(),
		StatusEvents: s.statusEvents.Load(),
	}
}
