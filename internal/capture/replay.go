package capture

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/stage"
)

// ReplayDevice serves pre-recorded samples as frames, optionally paced at
// the capture rate. The trailing partial frame is zero-padded.
type ReplayDevice struct {
	name     string
	cfg      DeviceConfig
	realtime bool
	load     func() ([]float32, int, error)

	mu      sync.Mutex
	frames  [][]float32
	next    int
	started time.Time
}

// NewReplayDevice serves samples recorded at sampleRate.
func NewReplayDevice(name string, samples []float32, sampleRate int, cfg DeviceConfig, realtime bool) *ReplayDevice {
	return &ReplayDevice{
		name:     name,
		cfg:      cfg,
		realtime: realtime,
		load: func() ([]float32, int, error) {
			return samples, sampleRate, nil
		},
	}
}

// NewWAVDevice replays a mono WAV file. The file is read on Open.
func NewWAVDevice(path string, cfg DeviceConfig, realtime bool) *ReplayDevice {
	return &ReplayDevice{
		name:     "wav:" + filepath.Base(path),
		cfg:      cfg,
		realtime: realtime,
		load: func() ([]float32, int, error) {
			samples, info, err := audio.ReadWAVFile(path)
			if err != nil {
				return nil, 0, err
			}
			return samples, int(info.SampleRate), nil
		},
	}
}

// Name implements Device.
func (d *ReplayDevice) Name() string {
	return d.name
}

// Open implements Device. The recording must match the configured sample
// rate; no resampling is done.
func (d *ReplayDevice) Open() error {
	samples, rate, err := d.load()
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", d.name, err)
	}
	if rate != d.cfg.SampleRate {
		return fmt.Errorf("%s is recorded at %d Hz, pipeline runs at %d Hz", d.name, rate, d.cfg.SampleRate)
	}
	frames, err := audio.SliceFrames(samples, d.cfg.FrameSize(), true)
	if err != nil {
		return fmt.Errorf("failed to slice %s into frames: %w", d.name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = frames
	d.next = 0
	d.started = time.Now()
	return nil
}

// ReadFrame implements Device.
func (d *ReplayDevice) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.next >= len(d.frames) {
		return audio.Frame{}, ErrEndOfStream
	}

	capturedAt := d.started.Add(time.Duration(d.next+1) * d.cfg.FrameDuration())
	if d.realtime {
		wait := time.Until(capturedAt)
		if wait > timeout {
			time.Sleep(timeout)
			return audio.Frame{}, stage.ErrTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	frame := audio.Frame{
		Samples:    d.frames[d.next],
		SampleRate: d.cfg.SampleRate,
		Sequence:   uint64(d.next),
		CapturedAt: capturedAt,
	}
	d.next++
	return frame, nil
}

// Close implements Device.
func (d *ReplayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = nil
	return nil
}

// Remaining returns the number of frames not yet read.
func (d *ReplayDevice) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames) - d.next
}
