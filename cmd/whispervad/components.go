package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Drakrig/whisper-vad/internal/capture"
	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/server"
	"github.com/Drakrig/whisper-vad/internal/transcription"
	"github.com/Drakrig/whisper-vad/internal/vad"
)

// components are the external resources selected by the configuration.
type components struct {
	device     capture.Device
	receiver   *server.UDPReceiver
	detector   *vad.Detector
	recognizer transcription.Recognizer
	client     *transcription.Client
}

// buildComponents selects the capture device and loads both models
// concurrently. On error everything already loaded is released.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*components, error) {
	c := &components{}
	deviceCfg := capture.DeviceConfig{
		SampleRate:      cfg.Audio.SampleRate,
		FrameDurationMs: cfg.Audio.FrameDurationMs,
	}

	switch cfg.Audio.Source {
	case config.SourceDevice:
		c.device = capture.NewMicrophone(cfg.Audio.DeviceName, deviceCfg, cfg.Pipeline.FrameQueueSize, logger)
	case config.SourceWAV:
		c.device = capture.NewWAVDevice(cfg.Audio.WAVPath, deviceCfg, cfg.Audio.WAVRealtime)
	case config.SourceUDP:
		c.receiver = server.NewUDPReceiver(&cfg.UDP, deviceCfg, cfg.Pipeline.FrameQueueSize, logger, m)
		c.device = c.receiver
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Audio.Source)
	}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		model, err := newVADModel(cfg.VAD)
		if err != nil {
			return err
		}
		detector, err := vad.NewDetector(model)
		if err != nil {
			model.Close()
			return err
		}
		c.detector = detector
		logger.Info("VAD model loaded",
			slog.String("backend", cfg.VAD.Backend),
			slog.String("model_path", cfg.VAD.ModelPath),
		)
		return nil
	})

	g.Go(func() error {
		recognizer, err := newRecognizer(cfg.Transcription, logger, m)
		if err != nil {
			return err
		}
		c.recognizer = recognizer
		c.client, _ = recognizer.(*transcription.Client)
		logger.Info("Speech recognizer ready",
			slog.String("backend", cfg.Transcription.Backend),
			slog.String("language", cfg.Transcription.Language),
		)
		return nil
	})

	if err := g.Wait(); err != nil {
		c.close(logger)
		return nil, err
	}
	return c, nil
}

func newVADModel(cfg config.VADConfig) (vad.Model, error) {
	switch cfg.Backend {
	case config.VADBackendSilero:
		model, err := vad.NewSileroModel(cfg.ModelPath, cfg.ONNXLibraryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load silero model: %w", err)
		}
		return model, nil
	case config.VADBackendEnergy:
		return vad.NewEnergyModel(0), nil
	default:
		return nil, fmt.Errorf("unknown vad backend %q", cfg.Backend)
	}
}

func newRecognizer(cfg config.TranscriptionConfig, logger *slog.Logger, m *metrics.Metrics) (transcription.Recognizer, error) {
	switch cfg.Backend {
	case config.TranscriptionBackendWhisper:
		rec, err := transcription.NewWhisperRecognizer(cfg.ModelPath, cfg.Language, cfg.Threads, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load whisper model: %w", err)
		}
		return rec, nil
	case config.TranscriptionBackendHTTP:
		client, err := transcription.NewClient(transcription.ClientConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Language:   cfg.Language,
			Timeout:    cfg.GetTimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		}, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

// close releases models loaded before a startup failure. The device was
// never opened.
func (c *components) close(logger *slog.Logger) {
	if c.detector != nil {
		if err := c.detector.Close(); err != nil {
			logger.Warn("Failed to close VAD model", slog.String("error", err.Error()))
		}
	}
	if c.recognizer != nil {
		if err := c.recognizer.Close(); err != nil {
			logger.Warn("Failed to close speech recognizer", slog.String("error", err.Error()))
		}
	}
}
