package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/logging"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/pipeline"
	"github.com/Drakrig/whisper-vad/internal/server"
)

var watchConfig bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture, segmentation and transcription pipeline",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&watchConfig, "watch", true, "Reload the log level when the configuration file changes")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found: %w", configPath, err)
		}
		return err
	}

	levelVar := &slog.LevelVar{}
	logger, logCloser, err := logging.New(cfg.Logging, levelVar)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("source", cfg.Audio.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_duration_ms", cfg.Audio.FrameDurationMs),
		slog.String("vad_backend", cfg.VAD.Backend),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.Int("max_silence_duration_ms", cfg.VAD.MaxSilenceDurationMs),
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.String("language", cfg.Transcription.Language),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(metrics.NewRegistry())

	comps, err := buildComponents(ctx, cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to initialize pipeline components", slog.String("error", err.Error()))
		return &exitError{code: 1}
	}

	sinks, history, err := buildSinks(cfg, logger)
	if err != nil {
		comps.close(logger)
		logger.Error("Failed to open transcript output", slog.String("error", err.Error()))
		return &exitError{code: 1}
	}

	p, err := pipeline.New(pipeline.ConfigFrom(cfg), pipeline.Components{
		Device:     comps.device,
		Classifier: comps.detector,
		Recognizer: comps.recognizer,
	}, sinks, logger, appMetrics)
	if err != nil {
		comps.close(logger)
		closeSinks(logger, sinks)
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		return &exitError{code: 1}
	}

	current := func() *config.Config { return cfg }
	if watchConfig {
		watcher, err := config.NewWatcher(configPath, cfg, logger, func(old, updated *config.Config) {
			applyReload(logger, levelVar, old, updated)
		})
		if err != nil {
			logger.Warn("Config watcher disabled", slog.String("error", err.Error()))
		} else {
			watchCtx, cancelWatch := context.WithCancel(ctx)
			defer cancelWatch()
			go watcher.Run(watchCtx)
			current = watcher.Current
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(&cfg.HTTP, logger, p, appMetrics, server.HTTPServerOptions{
			Config:   current,
			History:  history,
			Receiver: comps.receiver,
			Client:   comps.client,
			Version:  serviceVersion,
		})
		if err := httpServer.Start(); err != nil {
			comps.close(logger)
			closeSinks(logger, sinks)
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return &exitError{code: 1}
		}
	}

	report, err := p.Run(ctx)
	if err != nil {
		comps.close(logger)
		closeSinks(logger, sinks)
		logger.Error("Failed to start pipeline", slog.String("error", err.Error()))
		stopHTTP(logger, httpServer)
		return &exitError{code: 1}
	}

	stopHTTP(logger, httpServer)

	stats := p.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("frames", stats.Source.Frames),
		slog.Uint64("speech_frames", stats.Segmenter.SpeechFrames),
		slog.Uint64("utterances", stats.Segmenter.Utterances),
		slog.Uint64("transcripts", stats.Transcriber.Transcripts),
		slog.Uint64("transcription_failures", stats.Transcriber.Failures),
		slog.Uint64("transcripts_delivered", report.Delivered),
	)
	for _, s := range report.Stages {
		logger.Info("Stage terminated",
			slog.String("stage", s.Name),
			slog.String("outcome", s.Outcome),
			slog.String("error", s.Error),
		)
	}

	if !report.Clean() {
		logger.Error("Service stopped uncleanly",
			slog.Bool("forced", report.Forced),
			slog.Bool("failed", report.Failed),
		)
		return &exitError{code: report.ExitCode()}
	}

	logger.Info("Service stopped")
	return nil
}

func buildSinks(cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, *pipeline.History, error) {
	sinks := []pipeline.Sink{pipeline.NewLogSink(logger)}

	if cfg.Output.Format != config.OutputNone {
		out, err := pipeline.OpenFileSink(cfg.Output.Path, cfg.Output.Format)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, out)
	}

	var history *pipeline.History
	if cfg.HTTP.Enabled {
		history = pipeline.NewHistory(cfg.HTTP.HistorySize)
		sinks = append(sinks, history)
	}

	return sinks, history, nil
}

// closeSinks releases sinks the pipeline never took ownership of.
func closeSinks(logger *slog.Logger, sinks []pipeline.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close transcript sink", slog.String("error", err.Error()))
		}
	}
}

// applyReload applies the settings that can change while running. Everything
// else needs a restart.
func applyReload(logger *slog.Logger, levelVar *slog.LevelVar, old, updated *config.Config) {
	if old.Logging.Level != updated.Logging.Level {
		levelVar.Set(logging.ParseLevel(updated.Logging.Level))
		logger.Info("Log level changed",
			slog.String("from", old.Logging.Level),
			slog.String("to", updated.Logging.Level),
		)
	}

	rest := *updated
	rest.Logging.Level = old.Logging.Level
	if rest != *old {
		logger.Warn("Configuration changes other than logging.level take effect after restart")
	}
}

func stopHTTP(logger *slog.Logger, h *server.HTTPServer) {
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
}
