package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/capture"
	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/stage"
	"github.com/Drakrig/whisper-vad/internal/transcription"
	"github.com/Drakrig/whisper-vad/internal/vad"
)

const (
	testRate      = 16000
	testFrameMs   = 32
	testFrameSize = 512
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		SampleRate:           testRate,
		FrameDurationMs:      testFrameMs,
		MaxSilenceDurationMs: 320,
		Threshold:            0.5,
		Language:             "en",
		FrameQueueSize:       64,
		UtteranceQueueSize:   4,
		TextQueueSize:        4,
		PollTimeout:          20 * time.Millisecond,
		WakePopTimeout:       20 * time.Millisecond,
		GracePeriod:          time.Second,
		StallWarnAfter:       5,
	}
}

// signal builds frames of a loud tone (speech) or zeros (silence).
func signal(parts ...int) []float32 {
	var out []float32
	for i, frames := range parts {
		speech := i%2 == 0
		for n := 0; n < frames*testFrameSize; n++ {
			var v float32
			if speech {
				v = float32(0.5 * math.Sin(2*math.Pi*440*float64(n)/testRate))
			}
			out = append(out, v)
		}
	}
	return out
}

func energyClassifier(t *testing.T) *vad.Detector {
	t.Helper()
	d, err := vad.NewDetector(vad.NewEnergyModel(0.3))
	require.NoError(t, err)
	return d
}

// countingRecognizer reports how many frames each utterance holds.
type countingRecognizer struct {
	calls  atomic.Int32
	closed atomic.Bool
}

func (r *countingRecognizer) Transcribe(_ context.Context, samples []float32, _ int) (string, error) {
	r.calls.Add(1)
	return fmt.Sprintf("%d frames", len(samples)/testFrameSize), nil
}

func (r *countingRecognizer) Close() error {
	r.closed.Store(true)
	return nil
}

// blockingRecognizer never returns until release is closed.
type blockingRecognizer struct {
	release chan struct{}
	closed  atomic.Bool
}

func (r *blockingRecognizer) Transcribe(context.Context, []float32, int) (string, error) {
	<-r.release
	return "late", nil
}

func (r *blockingRecognizer) Close() error {
	r.closed.Store(true)
	return nil
}

// idleDevice never yields a frame.
type idleDevice struct {
	openErr error
	closed  atomic.Bool
}

func (d *idleDevice) Name() string { return "idle" }
func (d *idleDevice) Open() error  { return d.openErr }
func (d *idleDevice) Close() error { d.closed.Store(true); return nil }

func (d *idleDevice) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	time.Sleep(timeout)
	return audio.Frame{}, stage.ErrTimeout
}

// rejectingClassifier fails every frame with a contract violation.
type rejectingClassifier struct{}

func (rejectingClassifier) Probability([]float32, int) (float32, error) {
	return 0, fmt.Errorf("bad frame: %w", vad.ErrContractViolation)
}

func replay(samples []float32) capture.Device {
	return capture.NewReplayDevice("memory", samples, testRate,
		capture.DeviceConfig{SampleRate: testRate, FrameDurationMs: testFrameMs}, false)
}

func TestRunDrainsFiniteInput(t *testing.T) {
	rec := &countingRecognizer{}
	history := NewHistory(10)
	var out bytes.Buffer
	jsonl, err := NewWriterSink(&out, config.OutputJSONL)
	require.NoError(t, err)

	// chunk limit is 320/32 = 10, so 11 silent frames end an utterance and
	// the trailing 5 silent frames leave the second one for the final flush.
	p, err := New(testConfig(), Components{
		Device:     replay(signal(20, 11, 15, 5)),
		Classifier: energyClassifier(t),
		Recognizer: rec,
	}, []Sink{history, jsonl}, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "pipeline should drain before the deadline")

	assert.True(t, report.Clean())
	assert.Equal(t, 0, report.ExitCode())
	require.Len(t, report.Stages, 3)
	for _, s := range report.Stages {
		assert.Equal(t, OutcomeCompleted, s.Outcome, s.Name)
	}
	assert.Equal(t, uint64(2), report.Delivered)
	assert.Equal(t, map[string]int{QueueFrames: 0, QueueUtterances: 0, QueueTexts: 0}, report.QueueDepths)

	recent := history.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "15 frames", recent[0].Text)
	assert.Equal(t, "20 frames", recent[1].Text)
	assert.Equal(t, "en", recent[0].Language)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first transcription.Transcript
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "20 frames", first.Text)

	assert.True(t, rec.closed.Load(), "recognizer released after its stage ended")
	assert.Equal(t, int32(2), rec.calls.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	dev := &idleDevice{}
	p, err := New(testConfig(), Components{
		Device:     dev,
		Classifier: energyClassifier(t),
		Recognizer: &countingRecognizer{},
	}, nil, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var report ShutdownReport
	done := make(chan struct{})
	go func() {
		report, _ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.GetStats().Running }, time.Second, 5*time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	// Each stage re-checks the stop signal within one poll interval.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, report.Clean())
	for _, s := range report.Stages {
		assert.Equal(t, OutcomeStopped, s.Outcome, s.Name)
	}
	assert.True(t, dev.closed.Load())
	assert.False(t, p.GetStats().Running)
}

func TestStopReportsForcedTermination(t *testing.T) {
	rec := &blockingRecognizer{release: make(chan struct{})}
	t.Cleanup(func() { close(rec.release) })

	cfg := testConfig()
	cfg.GracePeriod = 100 * time.Millisecond

	p, err := New(cfg, Components{
		Device:     replay(signal(5, 11)),
		Classifier: energyClassifier(t),
		Recognizer: rec,
	}, nil, quietLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return p.GetStats().Transcriber.InFlight },
		2*time.Second, 5*time.Millisecond)

	report := p.Stop()

	assert.True(t, report.Forced)
	assert.False(t, report.Clean())
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, OutcomeForced, report.outcome("transcriber"))
	assert.NotEqual(t, OutcomeForced, report.outcome("segmenter"))
	assert.False(t, rec.closed.Load(), "resources of an abandoned stage stay open")

	again := p.Stop()
	assert.Equal(t, report.Stages, again.Stages, "Stop is idempotent")
}

func TestRunReportsStageFailure(t *testing.T) {
	p, err := New(testConfig(), Components{
		Device:     replay(signal(5)),
		Classifier: rejectingClassifier{},
		Recognizer: &countingRecognizer{},
	}, nil, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Failed)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, OutcomeFailed, report.outcome("segmenter"))
	for _, s := range report.Stages {
		if s.Name == "segmenter" {
			assert.Contains(t, s.Error, "contract")
		}
	}
}

func TestRunFailsWhenDeviceCannotOpen(t *testing.T) {
	p, err := New(testConfig(), Components{
		Device:     &idleDevice{openErr: errors.New("no such device")},
		Classifier: energyClassifier(t),
		Recognizer: &countingRecognizer{},
	}, nil, quietLogger(), nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.False(t, p.GetStats().Running)
	assert.Empty(t, p.runners, "no stage may start without a device")
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(testConfig(), Components{}, nil, quietLogger(), nil)
	assert.Error(t, err)

	_, err = New(testConfig(), Components{Device: &idleDevice{}}, nil, quietLogger(), nil)
	assert.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.VAD.MaxSilenceDurationMs = 700
	cfg.Transcription.Language = "uk"

	pc := ConfigFrom(cfg)
	assert.Equal(t, 16000, pc.SampleRate)
	assert.Equal(t, 32, pc.FrameDurationMs)
	assert.Equal(t, 700, pc.MaxSilenceDurationMs)
	assert.Equal(t, "uk", pc.Language)
	assert.Equal(t, 5*time.Second, pc.GracePeriod)
	assert.Equal(t, 250*time.Millisecond, pc.WakePopTimeout)
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	assert.Empty(t, h.Recent(0))

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Deliver(transcription.Transcript{Text: fmt.Sprint(i)}))
	}

	assert.Equal(t, 3, h.Len())
	texts := func(ts []transcription.Transcript) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Text)
		}
		return out
	}
	assert.Equal(t, []string{"5", "4", "3"}, texts(h.Recent(0)))
	assert.Equal(t, []string{"5", "4"}, texts(h.Recent(2)))
}

func TestWriterSinkText(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewWriterSink(&buf, config.OutputText)
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 12, 30, 5, 250_000_000, time.UTC)
	require.NoError(t, sink.Deliver(transcription.Transcript{
		Text:      "hello there",
		StartTime: start,
		Duration:  1500 * time.Millisecond,
	}))
	assert.Equal(t, "[12:30:05.250 +1.50s] hello there\n", buf.String())

	_, err = NewWriterSink(&buf, "xml")
	assert.Error(t, err)
}

func TestSinkFailureDoesNotStopDelivery(t *testing.T) {
	history := NewHistory(4)
	p, err := New(testConfig(), Components{
		Device:     replay(signal(5, 11)),
		Classifier: energyClassifier(t),
		Recognizer: &countingRecognizer{},
	}, []Sink{failingSink{}, history}, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Equal(t, 1, history.Len())
}

type failingSink struct{}

func (failingSink) Deliver(transcription.Transcript) error { return errors.New("disk full") }
func (failingSink) Close() error                         { return nil }

func TestGetStatsDuringStart(t *testing.T) {
	p, err := New(testConfig(), Components{
		Device:     &idleDevice{},
		Classifier: energyClassifier(t),
		Recognizer: &countingRecognizer{},
	}, nil, quietLogger(), nil)
	require.NoError(t, err)

	polling := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(polling)
		for i := 0; i < 1000; i++ {
			p.GetStats()
		}
	}()

	<-polling
	require.NoError(t, p.Start())
	<-done

	stats := p.GetStats()
	assert.True(t, stats.Running)
	assert.NotEmpty(t, stats.Uptime)

	report := p.Stop()
	assert.True(t, report.Clean())
}
