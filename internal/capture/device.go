package capture

import (
	"errors"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
)

// ErrEndOfStream is returned by a finite device once every frame was read.
var ErrEndOfStream = errors.New("end of audio stream")

// Device is a pull-style audio capture device yielding fixed-size mono
// frames.
type Device interface {
	// Name identifies the device in logs.
	Name() string
	// Open acquires the device. Frames are available after it returns.
	Open() error
	// ReadFrame blocks up to timeout for the next frame. It returns
	// stage.ErrTimeout when no frame arrived and ErrEndOfStream when a
	// finite device is exhausted.
	ReadFrame(timeout time.Duration) (audio.Frame, error)
	// Close releases the device.
	Close() error
}

// DeviceConfig describes the frames a device must produce.
type DeviceConfig struct {
	SampleRate      int
	FrameDurationMs int
}

// FrameSize returns the number of samples per frame.
func (c DeviceConfig) FrameSize() int {
	return audio.FrameSize(c.SampleRate, c.FrameDurationMs)
}

// FrameDuration returns the capture interval of one frame.
func (c DeviceConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}
