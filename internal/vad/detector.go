package vad

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
)

// Detector runs streaming VAD inference over fixed-size chunks. It owns its
// State; calls must come from a single goroutine. GetStats may be called
// concurrently.
type Detector struct {
	model Model
	state State

	calls        atomic.Uint64
	resets       atomic.Uint64
	lastDuration atomic.Int64
}

// DetectorStats is a snapshot of detector counters.
type DetectorStats struct {
	Calls         uint64        `json:"calls"`
	StateResets   uint64        `json:"state_resets"`
	LastInference time.Duration `json:"last_inference"`
}

// NewDetector creates a detector around model with a fresh state.
func NewDetector(model Model) (*Detector, error) {
	if model == nil {
		return nil, fmt.Errorf("vad model is required")
	}
	return &Detector{model: model}, nil
}

// Predict runs one inference step for a batch of equally sized chunks and
// returns one speech probability in [0, 1] per row.
//
// Chunks at an integer multiple of 16 kHz are downsampled by striding.
// After that, a row must hold exactly 512 samples at 16 kHz or 256 at 8 kHz;
// anything else is an ErrContractViolation. The hidden state is reset when
// uninitialized or when the sample rate or batch size differs from the
// previous call.
func (d *Detector) Predict(x [][]float32, sampleRate int) ([]float32, error) {
	batch := len(x)
	if batch == 0 {
		return nil, fmt.Errorf("empty batch: %w", ErrContractViolation)
	}
	for i := 1; i < batch; i++ {
		if len(x[i]) != len(x[0]) {
			return nil, fmt.Errorf("batch row %d has %d samples, row 0 has %d: %w",
				i, len(x[i]), len(x[0]), ErrContractViolation)
		}
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d: %w", sampleRate, ErrContractViolation)
	}

	if sampleRate != rate16k && sampleRate%rate16k == 0 {
		step := sampleRate / rate16k
		rows := make([][]float32, batch)
		for i, row := range x {
			rows[i] = audio.Downsample(row, step)
		}
		x = rows
		sampleRate = rate16k
	}

	samples := len(x[0])
	if samples == 0 || float64(sampleRate)/float64(samples) > maxRateToSamples {
		return nil, fmt.Errorf("input audio chunk is too short (%d samples at %d Hz): %w",
			samples, sampleRate, ErrContractViolation)
	}

	window := WindowSize(sampleRate)
	if window == 0 {
		return nil, fmt.Errorf("unsupported sample rate %d (supported: 8000, 16000 and multiples of 16000): %w",
			sampleRate, ErrContractViolation)
	}
	if samples != window {
		return nil, fmt.Errorf("provided %d samples, expected %d at %d Hz: %w",
			samples, window, sampleRate, ErrContractViolation)
	}

	contextSize := ContextSize(sampleRate)
	if d.state.needsReset(sampleRate, batch) {
		d.state.Reset(batch)
		d.resets.Add(1)
	}
	d.state.ensureContext(batch, contextSize)

	width := contextSize + window
	input := make([]float32, batch*width)
	for i, row := range x {
		base := i * width
		copy(input[base:], d.state.context[i*contextSize:(i+1)*contextSize])
		copy(input[base+contextSize:], row)
	}

	start := time.Now()
	probs, newState, err := d.model.Infer(input, batch, width, d.state.hidden, sampleRate)
	d.lastDuration.Store(int64(time.Since(start)))
	d.calls.Add(1)
	if err != nil {
		return nil, fmt.Errorf("vad inference failed: %w", err)
	}
	if len(probs) != batch {
		return nil, fmt.Errorf("vad model returned %d probabilities for batch of %d", len(probs), batch)
	}
	if len(newState) != len(d.state.hidden) {
		return nil, fmt.Errorf("vad model returned state of %d values, expected %d", len(newState), len(d.state.hidden))
	}

	copy(d.state.hidden, newState)
	for i := 0; i < batch; i++ {
		rowEnd := (i + 1) * width
		copy(d.state.context[i*contextSize:(i+1)*contextSize], input[rowEnd-contextSize:rowEnd])
	}
	d.state.lastRate = sampleRate
	d.state.lastBatch = batch

	out := make([]float32, batch)
	for i, p := range probs {
		out[i] = clampProbability(p)
	}
	return out, nil
}

// Probability runs Predict on a single chunk.
func (d *Detector) Probability(samples []float32, sampleRate int) (float32, error) {
	probs, err := d.Predict([][]float32{samples}, sampleRate)
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// Reset discards the carried state so the next call starts fresh.
func (d *Detector) Reset() {
	d.state = State{resetCount: d.state.resetCount}
}

// State exposes the carried state for inspection.
func (d *Detector) State() *State {
	return &d.state
}

// Close releases the model.
func (d *Detector) Close() error {
	return d.model.Close()
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() DetectorStats {
	return DetectorStats{
		Calls:         d.calls.Load(),
		StateResets:   d.resets.Load(),
		LastInference: time.Duration(d.lastDuration.Load()),
	}
}

func clampProbability(p float32) float32 {
	switch {
	case math.IsNaN(float64(p)), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
