package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime loads the ONNX Runtime shared library once per process.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// SileroModel runs the Silero VAD ONNX network.
type SileroModel struct {
	session *ort.DynamicAdvancedSession
	path    string
}

// NewSileroModel loads the ONNX model at modelPath. libraryPath locates the
// onnxruntime shared library; empty uses the platform default name.
func NewSileroModel(modelPath, libraryPath string) (*SileroModel, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero model path cannot be empty")
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load silero model %s: %w", modelPath, err)
	}

	return &SileroModel{session: session, path: modelPath}, nil
}

// Infer implements Model.
func (m *SileroModel) Infer(input []float32, batch, width int, state []float32, sampleRate int) ([]float32, []float32, error) {
	inputT, err := ort.NewTensor(ort.NewShape(int64(batch), int64(width)), input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputT.Destroy()

	stateT, err := ort.NewTensor(ort.NewShape(StateLayers, int64(batch), StateWidth), state)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer stateT.Destroy()

	srT, err := ort.NewScalar(int64(sampleRate))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sample rate tensor: %w", err)
	}
	defer srT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), 1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outT.Destroy()

	stateOutT, err := ort.NewEmptyTensor[float32](ort.NewShape(StateLayers, int64(batch), StateWidth))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create state output tensor: %w", err)
	}
	defer stateOutT.Destroy()

	if err := m.session.Run([]ort.Value{inputT, stateT, srT}, []ort.Value{outT, stateOutT}); err != nil {
		return nil, nil, fmt.Errorf("silero inference failed: %w", err)
	}

	probs := append([]float32(nil), outT.GetData()...)
	newState := append([]float32(nil), stateOutT.GetData()...)
	return probs, newState, nil
}

// Close releases the inference session.
func (m *SileroModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// Path returns the model file path.
func (m *SileroModel) Path() string {
	return m.path
}
