package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/stage"
)

// DefaultWakePopTimeout bounds the utterance read after a wake-up. A wake
// with nothing queued is a benign race, so this is kept short.
const DefaultWakePopTimeout = 250 * time.Millisecond

// StageConfig holds the Transcriber parameters.
type StageConfig struct {
	Language       string
	WakePopTimeout time.Duration
}

// StageStats is a snapshot of transcriber counters.
type StageStats struct {
	Wakes       uint64 `json:"wakes"`
	EmptyWakes  uint64 `json:"empty_wakes"`
	Utterances  uint64 `json:"utterances"`
	Transcripts uint64 `json:"transcripts"`
	Empty       uint64 `json:"empty_results"`
	Failures    uint64 `json:"failures"`
	InFlight    bool   `json:"in_flight"`
}

// Transcriber is the last pipeline stage. It sleeps on the wake notifier,
// takes one utterance per wake and runs speech-to-text synchronously, so at
// most one inference is ever in flight.
type Transcriber struct {
	stage.Base

	cfg        StageConfig
	recognizer Recognizer
	in         <-chan audio.Utterance
	out        chan<- Transcript
	wake       *stage.Notifier
	metrics    *metrics.Metrics

	wakes       atomic.Uint64
	emptyWakes  atomic.Uint64
	utterances  atomic.Uint64
	transcripts atomic.Uint64
	empty       atomic.Uint64
	failures    atomic.Uint64
	inFlight    atomic.Bool
}

// NewTranscriber builds a Transcriber. m may be nil.
func NewTranscriber(base stage.Base, cfg StageConfig, recognizer Recognizer, in <-chan audio.Utterance, out chan<- Transcript, wake *stage.Notifier, m *metrics.Metrics) (*Transcriber, error) {
	if recognizer == nil {
		return nil, fmt.Errorf("transcriber requires a recognizer")
	}
	if in == nil || out == nil {
		return nil, fmt.Errorf("transcriber requires input and output channels")
	}
	if wake == nil {
		return nil, fmt.Errorf("transcriber requires a wake notifier")
	}
	if cfg.WakePopTimeout <= 0 {
		cfg.WakePopTimeout = DefaultWakePopTimeout
	}
	return &Transcriber{
		Base:       base,
		cfg:        cfg,
		recognizer: recognizer,
		in:         in,
		out:        out,
		wake:       wake,
		metrics:    m,
	}, nil
}

// Run implements stage.Stage.
func (t *Transcriber) Run() error {
	t.Logger().Info("Transcriber started", slog.String("language", t.cfg.Language))
	return t.Loop(t.step)
}

func (t *Transcriber) step() error {
	// Without a wake the queue is still checked once: the notifier is
	// advisory and the channel is authoritative, including for closure.
	woke := t.wake.Wait(t.PollTimeout())
	popTimeout := time.Duration(0)
	if woke {
		t.wakes.Add(1)
		popTimeout = t.cfg.WakePopTimeout
	}

	u, err := stage.Pop(t.in, popTimeout)
	switch {
	case errors.Is(err, stage.ErrClosed):
		close(t.out)
		return stage.ErrDone
	case errors.Is(err, stage.ErrTimeout):
		if !woke {
			return err
		}
		t.emptyWakes.Add(1)
		t.metrics.RecordEmptyWake()
		t.Logger().Debug("Woken with no utterance queued")
		return nil
	case err != nil:
		return err
	}

	if !woke {
		t.Logger().Debug("Utterance queued without wake-up", slog.String("utterance_id", u.ID))
	}
	t.utterances.Add(1)
	return t.transcribe(u)
}

func (t *Transcriber) transcribe(u audio.Utterance) error {
	t.metrics.RecordTranscriptionRequest()
	t.inFlight.Store(true)
	ctx, cancel := t.Stop().Context(context.Background())
	start := time.Now()
	text, err := t.recognizer.Transcribe(ctx, u.Samples, u.SampleRate)
	latency := time.Since(start)
	stopped := ctx.Err() != nil
	cancel()
	t.inFlight.Store(false)

	if err != nil && stopped {
		t.failures.Add(1)
		t.Logger().Info("Transcription abandoned on shutdown",
			slog.String("utterance_id", u.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if err != nil {
		t.failures.Add(1)
		t.metrics.RecordTranscriptionFailure(latency.Seconds())
		t.Logger().Error("Transcription failed",
			slog.String("utterance_id", u.ID),
			slog.Duration("duration", u.Duration()),
			slog.String("error", err.Error()))
		return nil
	}
	t.metrics.RecordTranscriptionSuccess(latency.Seconds())

	if text == "" {
		t.empty.Add(1)
		t.Logger().Debug("Utterance produced no text", slog.String("utterance_id", u.ID))
		return nil
	}

	tr := Transcript{
		UtteranceID: u.ID,
		Text:        text,
		Language:    t.cfg.Language,
		StartSeq:    u.StartSeq,
		EndSeq:      u.EndSeq,
		StartTime:   u.StartTime,
		Duration:    u.Duration(),
		Confidence:  u.Confidence,
		Latency:     latency,
		CreatedAt:   time.Now(),
	}

	if err := stage.PushUntilStopped(t.out, tr, t.PollTimeout(), t.Stop(), func(attempt int) {
		t.Logger().Warn("Transcript queue full, sink is stalled",
			slog.String("utterance_id", u.ID),
			slog.Int("attempts", attempt))
	}); err != nil {
		return err
	}

	t.transcripts.Add(1)
	t.Logger().Debug("Utterance transcribed",
		slog.String("utterance_id", u.ID),
		slog.Duration("latency", latency),
		slog.Int("chars", len(text)))
	return nil
}

// GetStats returns current transcriber statistics.
func (t *Transcriber) GetStats() StageStats {
	return StageStats{
		Wakes:       t.wakes.Load(),
		EmptyWakes:  t.emptyWakes.Load(),
		Utterances:  t.utterances.Load(),
		Transcripts: t.transcripts.Load(),
		Empty:       t.empty.Load(),
		Failures:    t.failures.Load(),
		InFlight:    t.inFlight.Load(),
	}
}
