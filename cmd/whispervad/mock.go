package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Drakrig/whisper-vad/internal/logging"
	"github.com/Drakrig/whisper-vad/internal/server"
)

var (
	mockAddr  string
	mockDelay time.Duration
)

var mockCmd = &cobra.Command{
	Use:   "mock-inference",
	Short: "Serve a model-free /inference endpoint for the http transcription backend",
	Args:  cobra.NoArgs,
	RunE:  serveMockInference,
}

func init() {
	mockCmd.Flags().StringVar(&mockAddr, "addr", "127.0.0.1:9000", "Listen address")
	mockCmd.Flags().DurationVar(&mockDelay, "delay", 200*time.Millisecond, "Simulated processing time per request")
}

// consoleLogger is the logger of the helper commands, which run without a
// config file.
func consoleLogger(cmd *cobra.Command) *slog.Logger {
	levelVar := &slog.LevelVar{}
	return slog.New(logging.NewHandler("console", cmd.ErrOrStderr(), levelVar))
}

func serveMockInference(cmd *cobra.Command, args []string) error {
	logger := consoleLogger(cmd)
	mock := server.NewInferenceMock(logger, nil, mockDelay)

	srv := &http.Server{
		Addr:              mockAddr,
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock inference server listening",
			slog.String("endpoint", "http://"+mockAddr+"/inference"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	accepted, rejected := mock.Requests()
	logger.Info("Mock inference server stopped",
		slog.Uint64("accepted", accepted),
		slog.Uint64("rejected", rejected),
	)
	return nil
}
