package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// in [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts float32 samples to 16-bit PCM, clipping values
// outside [-1, 1].
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		out[i] = int16(math.Round(v * 32767))
	}
	return out
}

// Downsample keeps every factor-th sample. It is the naive striding used
// when a capture rate is an integer multiple of a model's native rate.
func Downsample(samples []float32, factor int) []float32 {
	if factor <= 1 {
		return samples
	}
	out := make([]float32, 0, (len(samples)+factor-1)/factor)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}

// SliceFrames splits samples into consecutive frames of frameSize samples.
// A trailing partial frame is zero-padded only when pad is true, otherwise
// it is dropped.
func SliceFrames(samples []float32, frameSize int, pad bool) ([][]float32, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	frames := make([][]float32, 0, len(samples)/frameSize+1)
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		if end > len(samples) {
			if !pad {
				break
			}
			frame := make([]float32, frameSize)
			copy(frame, samples[start:])
			frames = append(frames, frame)
			break
		}
		frame := make([]float32, frameSize)
		copy(frame, samples[start:end])
		frames = append(frames, frame)
	}
	return frames, nil
}

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
