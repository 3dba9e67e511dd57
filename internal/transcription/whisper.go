package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperSampleRate is the only rate whisper.cpp accepts.
const whisperSampleRate = 16000

// WhisperRecognizer runs whisper.cpp in-process through its CGO bindings.
// The model is loaded once; each utterance gets a fresh context.
type WhisperRecognizer struct {
	model    whisperlib.Model
	language string
	threads  uint
	logger   *slog.Logger
}

// NewWhisperRecognizer loads the ggml model at modelPath. threads <= 0 keeps
// the library default.
func NewWhisperRecognizer(modelPath, language string, threads int, logger *slog.Logger) (*WhisperRecognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper model path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model %q: %w", modelPath, err)
	}

	r := &WhisperRecognizer{
		model:    model,
		language: language,
		logger:   logger,
	}
	if threads > 0 {
		r.threads = uint(threads)
	}
	return r, nil
}

// Transcribe implements Recognizer. Inference cannot be interrupted once
// started; ctx is only checked before it begins.
func (r *WhisperRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if sampleRate != whisperSampleRate {
		return "", fmt.Errorf("whisper requires %d Hz audio, got %d Hz", whisperSampleRate, sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to create whisper context: %w", err)
	}

	if r.language != "" {
		if err := wctx.SetLanguage(r.language); err != nil {
			r.logger.Warn("Failed to set whisper language, using model default",
				slog.String("language", r.language),
				slog.String("error", err.Error()))
		}
	}
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper inference failed: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close releases the model.
func (r *WhisperRecognizer) Close() error {
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}
