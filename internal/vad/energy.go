package vad

import (
	"fmt"

	"github.com/Drakrig/whisper-vad/internal/audio"
)

// DefaultFullScaleRMS is the RMS level mapped to probability 1 by the energy
// model, roughly conversational speech close to the microphone.
const DefaultFullScaleRMS = 0.3

// EnergyModel is a model-free stand-in for Silero: the speech probability is
// the RMS level of the new window scaled by a full-scale level. It needs no
// model file and keeps the state untouched, which makes it useful for
// testing and for hosts without an ONNX runtime.
type EnergyModel struct {
	fullScale float64
}

// NewEnergyModel creates an energy model. fullScale <= 0 selects
// DefaultFullScaleRMS.
func NewEnergyModel(fullScale float64) *EnergyModel {
	if fullScale <= 0 {
		fullScale = DefaultFullScaleRMS
	}
	return &EnergyModel{fullScale: fullScale}
}

// Infer implements Model.
func (m *EnergyModel) Infer(input []float32, batch, width int, state []float32, sampleRate int) ([]float32, []float32, error) {
	if batch <= 0 || width <= 0 || len(input) != batch*width {
		return nil, nil, fmt.Errorf("input of %d values does not match shape (%d, %d)", len(input), batch, width)
	}
	context := ContextSize(sampleRate)

	probs := make([]float32, batch)
	for i := 0; i < batch; i++ {
		row := input[i*width+context : (i+1)*width]
		p := audio.RMS(row) / m.fullScale
		if p > 1 {
			p = 1
		}
		probs[i] = float32(p)
	}

	newState := make([]float32, len(state))
	copy(newState, state)
	return probs, newState, nil
}

// Close implements Model.
func (m *EnergyModel) Close() error {
	return nil
}
