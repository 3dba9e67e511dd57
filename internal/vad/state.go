package vad

// State is the inference state carried between calls: the recurrent hidden
// state, the trailing context per batch row and the sample rate and batch
// size it was built for. A State belongs to exactly one Detector.
type State struct {
	hidden     []float32
	context    []float32
	lastRate   int
	lastBatch  int
	resetCount uint64
}

// Initialized reports whether the state has processed at least one call.
func (s *State) Initialized() bool {
	return s.lastBatch != 0
}

// Reset zeroes the hidden state for batch rows and drops the context.
func (s *State) Reset(batch int) {
	s.hidden = make([]float32, StateLayers*batch*StateWidth)
	s.context = nil
	s.lastRate = 0
	s.lastBatch = 0
	s.resetCount++
}

// needsReset reports whether a call at sampleRate with batch rows must start
// from a fresh state.
func (s *State) needsReset(sampleRate, batch int) bool {
	return !s.Initialized() || s.lastRate != sampleRate || s.lastBatch != batch
}

// ensureContext sizes the context buffer if it is empty.
func (s *State) ensureContext(batch, contextSize int) {
	if len(s.context) == 0 {
		s.context = make([]float32, batch*contextSize)
	}
}

// Resets returns how many times the state has been reset.
func (s *State) Resets() uint64 {
	return s.resetCount
}

// SampleRate returns the sample rate of the last call, or 0.
func (s *State) SampleRate() int {
	return s.lastRate
}
