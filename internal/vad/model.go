package vad

import "errors"

// Model parameters of the Silero VAD family.
const (
	StateLayers = 2
	StateWidth  = 128

	rate16k = 16000
	rate8k  = 8000

	// maxRateToSamples bounds sampleRate/len(samples); shorter chunks
	// carry too little audio for the model.
	maxRateToSamples = 31.25
)

// ErrContractViolation is returned for input the model cannot accept:
// wrong chunk length, unsupported sample rate or malformed batch.
var ErrContractViolation = errors.New("vad input contract violation")

// Model runs one inference step of a stateful VAD network.
//
// input is row-major with shape (batch, width), where each row is the
// trailing context followed by the new window. state has shape
// (StateLayers, batch, StateWidth). Infer returns one speech probability per
// batch row and the updated state, which must have the same shape as state.
type Model interface {
	Infer(input []float32, batch, width int, state []float32, sampleRate int) (probs []float32, newState []float32, err error)
	Close() error
}

// WindowSize returns the number of samples the model expects per call at a
// supported sample rate, or 0.
func WindowSize(sampleRate int) int {
	switch sampleRate {
	case rate16k:
		return 512
	case rate8k:
		return 256
	}
	return 0
}

// FrameSamples returns the frame length a Detector accepts at a capture
// rate: one model window, scaled by the stride for multiples of 16 kHz.
// It returns 0 for rates the Detector cannot take.
func FrameSamples(sampleRate int) int {
	if sampleRate > rate16k && sampleRate%rate16k == 0 {
		return WindowSize(rate16k) * (sampleRate / rate16k)
	}
	return WindowSize(sampleRate)
}

// ContextSize returns the number of trailing samples carried into the next
// call at a supported sample rate, or 0.
func ContextSize(sampleRate int) int {
	switch sampleRate {
	case rate16k:
		return 64
	case rate8k:
		return 32
	}
	return 0
}
