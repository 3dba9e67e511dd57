package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3

	wavHeaderSize = 44
)

// WAVHeader is the canonical 44-byte header written by EncodeWAV.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVInfo describes a decoded WAV stream.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	AudioFormat   uint16  `json:"audio_format"`
	Duration      float64 `json:"duration_seconds"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV encodes float32 samples as a mono 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	pcm := Float32ToPCM16(samples)
	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono WAV file holding 16-bit PCM or 32-bit float
// samples. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]float32, *WAVInfo, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info    WAVInfo
		haveFmt bool
		payload []byte
	)
	for offset := 12; offset+8 <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			// Streams written without a final size often truncate the
			// data chunk; take what is there.
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk is %d bytes", size)
			}
			chunk := data[body : body+size]
			info.AudioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			info.Channels = binary.LittleEndian.Uint16(chunk[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			payload = data[body : body+size]
		}

		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if payload == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if info.Channels != 1 {
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}
	if info.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}

	var samples []float32
	switch {
	case info.AudioFormat == wavFormatPCM && info.BitsPerSample == 16:
		samples = PCM16ToFloat32(payload)
	case info.AudioFormat == wavFormatFloat && info.BitsPerSample == 32:
		samples = make([]float32, len(payload)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4 : i*4+4]))
		}
	default:
		return nil, nil, fmt.Errorf("unsupported audio format %d with %d bits per sample",
			info.AudioFormat, info.BitsPerSample)
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	info.NumSamples = uint32(len(samples))
	info.Duration = float64(len(samples)) / float64(info.SampleRate)
	return samples, &info, nil
}

// ReadWAVFile loads and decodes a WAV file from disk.
func ReadWAVFile(path string) ([]float32, *WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}
	samples, info, err := DecodeWAV(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}
	return samples, info, nil
}
