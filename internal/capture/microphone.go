package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/stage"
)

// DeviceInfo describes a capture device known to the audio backend.
type DeviceInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// ListDevices enumerates the capture devices of the default audio backend.
func ListDevices(logger *slog.Logger) ([]DeviceInfo, error) {
	ctx, err := initContext(logger)
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			Index:   i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func initContext(logger *slog.Logger) (*malgo.AllocatedContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", slog.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// Microphone captures float32 mono frames from a system input device. The
// audio callback hands whole frames to ReadFrame through a bounded channel;
// when the reader falls behind, frames are dropped at the device and the
// next delivered frame carries StatusInputOverflow.
type Microphone struct {
	deviceName string
	cfg        DeviceConfig
	logger     *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	frames chan audio.Frame

	// touched only by the audio callback
	pending  []float32
	sequence uint64
	overflow bool
}

// NewMicrophone creates a microphone device. An empty deviceName selects the
// system default input. bufferFrames bounds the frames held between the
// audio callback and the reader.
func NewMicrophone(deviceName string, cfg DeviceConfig, bufferFrames int, logger *slog.Logger) *Microphone {
	if bufferFrames < 1 {
		bufferFrames = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{
		deviceName: deviceName,
		cfg:        cfg,
		logger:     logger,
		frames:     make(chan audio.Frame, bufferFrames),
	}
}

// Name implements Device.
func (m *Microphone) Name() string {
	if m.deviceName == "" {
		return "mic:default"
	}
	return "mic:" + m.deviceName
}

// Open implements Device.
func (m *Microphone) Open() error {
	ctx, err := initContext(m.logger)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.FrameSize())

	if m.deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == m.deviceName {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(ctx)
			return fmt.Errorf("capture device %q not found", m.deviceName)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		freeContext(ctx)
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	m.logger.Info("Capture device opened",
		slog.String("device", m.Name()),
		slog.Int("sample_rate", m.cfg.SampleRate),
		slog.Int("frame_size", m.cfg.FrameSize()))
	return nil
}

// onData runs on the audio thread.
func (m *Microphone) onData(_, input []byte, frameCount uint32) {
	frameSize := m.cfg.FrameSize()
	n := int(frameCount)
	if len(input) < n*4 {
		n = len(input) / 4
	}
	for i := 0; i < n; i++ {
		m.pending = append(m.pending, math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:])))
	}

	for len(m.pending) >= frameSize {
		samples := make([]float32, frameSize)
		copy(samples, m.pending[:frameSize])
		m.pending = m.pending[frameSize:]

		frame := audio.Frame{
			Samples:    samples,
			SampleRate: m.cfg.SampleRate,
			Sequence:   m.sequence,
			CapturedAt: time.Now(),
		}
		m.sequence++
		if m.overflow {
			frame.Status |= audio.StatusInputOverflow
		}

		select {
		case m.frames <- frame:
			m.overflow = false
		default:
			m.overflow = true
		}
	}
	if len(m.pending) == 0 {
		m.pending = m.pending[:0:0]
	}
}

// ReadFrame implements Device.
func (m *Microphone) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	return stage.Pop(m.frames, timeout)
}

// Close implements Device.
func (m *Microphone) Close() error {
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.logger.Warn("Failed to stop capture device", slog.String("error", err.Error()))
		}
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		freeContext(m.ctx)
		m.ctx = nil
	}
	return nil
}
