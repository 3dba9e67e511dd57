package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/capture"
	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/segment"
	"github.com/Drakrig/whisper-vad/internal/stage"
	"github.com/Drakrig/whisper-vad/internal/transcription"
)

// Queue names used in stats, logs and metrics.
const (
	QueueFrames     = "frames"
	QueueUtterances = "utterances"
	QueueTexts      = "texts"
)

// DefaultGracePeriod bounds how long Stop waits for each stage.
const DefaultGracePeriod = 5 * time.Second

// Config holds the orchestration parameters.
type Config struct {
	SampleRate           int
	FrameDurationMs      int
	MaxSilenceDurationMs int
	Threshold            float32
	Language             string

	FrameQueueSize     int
	UtteranceQueueSize int
	TextQueueSize      int

	PollTimeout    time.Duration
	WakePopTimeout time.Duration
	GracePeriod    time.Duration
	StallWarnAfter int
}

// ConfigFrom extracts the orchestration parameters from the file
// configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SampleRate:           cfg.Audio.SampleRate,
		FrameDurationMs:      cfg.Audio.FrameDurationMs,
		MaxSilenceDurationMs: cfg.VAD.MaxSilenceDurationMs,
		Threshold:            cfg.VAD.Threshold,
		Language:             cfg.Transcription.Language,
		FrameQueueSize:       cfg.Pipeline.FrameQueueSize,
		UtteranceQueueSize:   cfg.Pipeline.UtteranceQueueSize,
		TextQueueSize:        cfg.Pipeline.TextQueueSize,
		PollTimeout:          cfg.Pipeline.GetPollTimeout(),
		WakePopTimeout:       cfg.Pipeline.GetWakePopTimeout(),
		GracePeriod:          cfg.Pipeline.GetGracePeriod(),
		StallWarnAfter:       cfg.Pipeline.StallWarnAfter,
	}
}

func (c *Config) applyDefaults() {
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = 256
	}
	if c.UtteranceQueueSize <= 0 {
		c.UtteranceQueueSize = 16
	}
	if c.TextQueueSize <= 0 {
		c.TextQueueSize = 64
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = stage.DefaultPollTimeout
	}
	if c.WakePopTimeout <= 0 {
		c.WakePopTimeout = transcription.DefaultWakePopTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.StallWarnAfter <= 0 {
		c.StallWarnAfter = 5
	}
}

// Components are the external resources the pipeline drives. Classifier
// and Recognizer are closed by the pipeline when it stops, if they
// implement io.Closer and their stage terminated.
type Components struct {
	Device     capture.Device
	Classifier segment.Classifier
	Recognizer transcription.Recognizer
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	Running     bool                     `json:"running"`
	Uptime      string                   `json:"uptime"`
	Source      capture.SourceStats      `json:"source"`
	Segmenter   segment.Stats            `json:"segmenter"`
	Transcriber transcription.StageStats `json:"transcriber"`
	QueueDepths map[string]int           `json:"queue_depths"`
	PendingWake int                      `json:"pending_wakes"`
	Delivered   uint64                   `json:"transcripts_delivered"`
}

// runner tracks one stage goroutine.
type runner struct {
	stage      stage.Stage
	done       chan struct{}
	err        error
	finishedAt time.Time
	beforeStop bool
}

// Pipeline wires FrameSource, Segmenter and Transcriber together and owns
// their lifecycle.
type Pipeline struct {
	cfg     Config
	comps   Components
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	stop       *stage.StopSignal
	wake       *stage.Notifier
	frames     chan audio.Frame
	utterances chan audio.Utterance
	texts      chan transcription.Transcript

	source      *capture.Source
	segmenter   *segment.Segmenter
	transcriber *transcription.Transcriber

	runners  []*runner
	finished chan *runner
	quit     chan struct{}
	consumer sync.WaitGroup

	startedAt atomic.Int64 // unix nanoseconds, 0 until the device is open
	running   atomic.Bool
	stopOnce  sync.Once
	report    ShutdownReport
	delivered atomic.Uint64
}

// New builds the pipeline. Nothing runs and the device is not opened until
// Start. m may be nil.
func New(cfg Config, comps Components, sinks []Sink, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if comps.Device == nil {
		return nil, fmt.Errorf("pipeline requires a capture device")
	}
	if comps.Classifier == nil {
		return nil, fmt.Errorf("pipeline requires a speech classifier")
	}
	if comps.Recognizer == nil {
		return nil, fmt.Errorf("pipeline requires a speech recognizer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	p := &Pipeline{
		cfg:        cfg,
		comps:      comps,
		sinks:      sinks,
		logger:     logger,
		metrics:    m,
		stop:       stage.NewStopSignal(),
		wake:       stage.NewNotifier(cfg.UtteranceQueueSize),
		frames:     make(chan audio.Frame, cfg.FrameQueueSize),
		utterances: make(chan audio.Utterance, cfg.UtteranceQueueSize),
		texts:      make(chan transcription.Transcript, cfg.TextQueueSize),
		finished:   make(chan *runner, 3),
		quit:       make(chan struct{}),
	}

	base := func(name string) (stage.Base, error) {
		return stage.NewBase(name, p.stop, cfg.PollTimeout, logger)
	}

	sourceBase, err := base("source")
	if err != nil {
		return nil, err
	}
	p.source, err = capture.NewSource(sourceBase, comps.Device, p.frames, cfg.StallWarnAfter, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame source: %w", err)
	}

	segmenterBase, err := base("segmenter")
	if err != nil {
		return nil, err
	}
	p.segmenter, err = segment.New(segmenterBase, segment.Config{
		SampleRate:           cfg.SampleRate,
		FrameDurationMs:      cfg.FrameDurationMs,
		MaxSilenceDurationMs: cfg.MaxSilenceDurationMs,
		Threshold:            cfg.Threshold,
		StallWarnAfter:       cfg.StallWarnAfter,
	}, comps.Classifier, p.frames, p.utterances, p.wake, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	transcriberBase, err := base("transcriber")
	if err != nil {
		return nil, err
	}
	p.transcriber, err = transcription.NewTranscriber(transcriberBase, transcription.StageConfig{
		Language:       cfg.Language,
		WakePopTimeout: cfg.WakePopTimeout,
	}, comps.Recognizer, p.utterances, p.texts, p.wake, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcriber: %w", err)
	}

	return p, nil
}

// Start opens the capture device and launches every stage. If the device
// cannot be opened no stage is started.
func (p *Pipeline) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already started")
	}

	if err := p.comps.Device.Open(); err != nil {
		p.running.Store(false)
		return fmt.Errorf("failed to open capture device %s: %w", p.comps.Device.Name(), err)
	}

	p.startedAt.Store(time.Now().UnixNano())
	p.consumer.Add(2)
	go p.consume()
	go p.monitor()

	for _, s := range []stage.Stage{p.source, p.segmenter, p.transcriber} {
		r := &runner{stage: s, done: make(chan struct{})}
		p.runners = append(p.runners, r)
		go p.runStage(r)
	}

	p.logger.Info("Pipeline started",
		slog.String("device", p.comps.Device.Name()),
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Int("frame_duration_ms", p.cfg.FrameDurationMs),
		slog.Int("max_silence_duration_ms", p.cfg.MaxSilenceDurationMs),
		slog.Duration("grace_period", p.cfg.GracePeriod),
	)
	return nil
}

func (p *Pipeline) runStage(r *runner) {
	err := r.stage.Run()
	r.err = err
	r.finishedAt = time.Now()
	r.beforeStop = !p.stop.IsSet()
	close(r.done)
	p.finished <- r
}

// Run starts the pipeline and blocks until ctx is cancelled, a stage fails
// or the input is exhausted and fully drained. It always stops the pipeline
// before returning.
func (p *Pipeline) Run(ctx context.Context) (ShutdownReport, error) {
	if err := p.Start(); err != nil {
		return ShutdownReport{}, err
	}

	remaining := len(p.runners)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutdown requested")
			return p.Stop(), nil
		case r := <-p.finished:
			remaining--
			if r.err != nil {
				p.logger.Error("Stage failed, stopping pipeline",
					slog.String("stage", r.stage.Name()),
					slog.String("error", r.err.Error()),
				)
				return p.Stop(), nil
			}
			p.logger.Debug("Stage finished", slog.String("stage", r.stage.Name()))
		}
	}

	p.logger.Info("Pipeline drained")
	return p.Stop(), nil
}

// Stop sets the stop signal and waits up to the grace period for each
// stage in pipeline order. Stages still running afterwards are abandoned
// and reported as forced. Stop is idempotent.
func (p *Pipeline) Stop() ShutdownReport {
	p.stopOnce.Do(func() {
		p.report = p.shutdown()
	})
	return p.report
}

func (p *Pipeline) shutdown() ShutdownReport {
	p.stop.Set()
	report := ShutdownReport{}

	for _, r := range p.runners {
		sr := StageReport{Name: r.stage.Name()}
		select {
		case <-r.done:
			switch {
			case r.err != nil:
				sr.Outcome = OutcomeFailed
				sr.Error = r.err.Error()
				report.Failed = true
			case r.beforeStop:
				sr.Outcome = OutcomeCompleted
			default:
				sr.Outcome = OutcomeStopped
			}
		case <-time.After(p.cfg.GracePeriod):
			sr.Outcome = OutcomeForced
			report.Forced = true
			p.logger.Error("Stage did not stop within grace period, abandoning it",
				slog.String("stage", r.stage.Name()),
				slog.Duration("grace_period", p.cfg.GracePeriod),
			)
		}
		p.metrics.RecordStageTermination(sr.Name, sr.Outcome)
		report.Stages = append(report.Stages, sr)
	}

	close(p.quit)
	p.consumer.Wait()

	report.QueueDepths = p.queueDepths()
	report.Delivered = p.delivered.Load()
	for name, depth := range report.QueueDepths {
		p.metrics.SetQueueDepth(name, depth)
	}

	p.release(report)
	p.running.Store(false)

	p.logger.Info("Pipeline stopped",
		slog.Int("frames_queued", report.QueueDepths[QueueFrames]),
		slog.Int("utterances_queued", report.QueueDepths[QueueUtterances]),
		slog.Int("texts_queued", report.QueueDepths[QueueTexts]),
		slog.Uint64("transcripts_delivered", report.Delivered),
		slog.Bool("forced", report.Forced),
		slog.Bool("failed", report.Failed),
	)
	return report
}

// release closes resources whose stage is no longer running. Resources of
// an abandoned stage are left alone since the stage may still use them.
func (p *Pipeline) release(report ShutdownReport) {
	closeIf := func(stageName string, what string, c io.Closer) {
		if c == nil || report.outcome(stageName) == OutcomeForced {
			return
		}
		if err := c.Close(); err != nil {
			p.logger.Warn("Failed to close "+what, slog.String("error", err.Error()))
		}
	}

	closeIf("source", "capture device", p.comps.Device)
	if c, ok := p.comps.Classifier.(io.Closer); ok {
		closeIf("segmenter", "speech classifier", c)
	}
	closeIf("transcriber", "speech recognizer", p.comps.Recognizer)

	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Warn("Failed to close transcript sink", slog.String("error", err.Error()))
		}
	}
}

// consume delivers transcripts to every sink until the text queue is closed
// or the pipeline stops.
func (p *Pipeline) consume() {
	defer p.consumer.Done()
	for {
		select {
		case t, ok := <-p.texts:
			if !ok {
				return
			}
			p.deliver(t)
		case <-p.quit:
			for {
				t, err := stage.Pop(p.texts, 0)
				if err != nil {
					return
				}
				p.deliver(t)
			}
		}
	}
}

func (p *Pipeline) deliver(t transcription.Transcript) {
	p.delivered.Add(1)
	for _, s := range p.sinks {
		if err := s.Deliver(t); err != nil {
			p.logger.Warn("Transcript sink failed",
				slog.String("utterance_id", t.UtteranceID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// monitor publishes queue depths once per poll interval.
func (p *Pipeline) monitor() {
	defer p.consumer.Done()
	ticker := time.NewTicker(p.cfg.PollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			for name, depth := range p.queueDepths() {
				p.metrics.SetQueueDepth(name, depth)
			}
		}
	}
}

func (p *Pipeline) queueDepths() map[string]int {
	return map[string]int{
		QueueFrames:     len(p.frames),
		QueueUtterances: len(p.utterances),
		QueueTexts:      len(p.texts),
	}
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() Stats {
	stats := Stats{
		Running:     p.running.Load(),
		Source:      p.source.GetStats(),
		Segmenter:   p.segmenter.GetStats(),
		Transcriber: p.transcriber.GetStats(),
		QueueDepths: p.queueDepths(),
		PendingWake: p.wake.Pending(),
		Delivered:   p.delivered.Load(),
	}
	if started := p.startedAt.Load(); stats.Running && started != 0 {
		stats.Uptime = time.Since(time.Unix(0, started)).Round(time.Second).String()
	}
	return stats
}
