package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sineWave(sampleRate int, seconds, frequency float64) []float32 {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]float32, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := sineWave(sampleRate, 0.1, 440)

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := wavHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if string(wavData[0:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" {
		t.Error("Expected RIFF/WAVE header")
	}

	_, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAVPreservesSamples(t *testing.T) {
	original := []float32{0.1, -0.2, 0.3, -0.4, 0.5, 1.0, -1.0}

	wavData, err := EncodeWAV(original, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", info.SampleRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if math.Abs(float64(decoded[i]-original[i])) > 1.0/16384 {
			t.Errorf("Sample %d: expected %.4f, got %.4f", i, original[i], decoded[i])
		}
	}
}

func TestDecodeWAVFloatWithExtraChunk(t *testing.T) {
	samples := []float32{0.25, -0.5, 0.75}

	var buf bytes.Buffer
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, samples)

	list := []byte("INFOtest")
	fmtChunk := new(bytes.Buffer)
	binary.Write(fmtChunk, binary.LittleEndian, []uint16{wavFormatFloat, 1})
	binary.Write(fmtChunk, binary.LittleEndian, []uint32{16000, 16000 * 4})
	binary.Write(fmtChunk, binary.LittleEndian, []uint16{4, 32})

	riffSize := uint32(4 + 8 + len(list) + 8 + fmtChunk.Len() + 8 + payload.Len())
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(len(list)))
	buf.Write(list)
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(fmtChunk.Len()))
	buf.Write(fmtChunk.Bytes())
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(payload.Len()))
	buf.Write(payload.Bytes())

	decoded, info, err := DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if info.AudioFormat != wavFormatFloat {
		t.Errorf("Expected float format, got %d", info.AudioFormat)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]float32{}, 8000); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]float32{0.1}, -1000); err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"bad riff", append([]byte("FAKE\x00\x00\x00\x00WAVE"), make([]byte, 40)...)},
		{"bad wave", append([]byte("RIFF\x00\x00\x00\x00WAVX"), make([]byte, 40)...)},
		{"no chunks", []byte("RIFF\x04\x00\x00\x00WAVE")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	wavData, err := EncodeWAV([]float32{0.1, 0.2}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	binary.LittleEndian.PutUint16(wavData[22:24], 2)

	if _, _, err := DecodeWAV(wavData); err == nil {
		t.Error("Expected error for stereo WAV")
	}
}

func TestReadWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.wav")
	wavData, err := EncodeWAV(sineWave(16000, 0.5, 220), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		t.Fatalf("Failed to write WAV file: %v", err)
	}

	samples, info, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}
	if len(samples) != 8000 {
		t.Errorf("Expected 8000 samples, got %d", len(samples))
	}
	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}

	if _, _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
