package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/server"
)

var (
	streamAddr     string
	streamFrameMs  int
	streamRealtime bool
)

var streamCmd = &cobra.Command{
	Use:   "stream <file.wav>",
	Short: "Send a WAV file to a running pipeline as UDP frame packets",
	Args:  cobra.ExactArgs(1),
	RunE:  streamWAV,
}

func init() {
	streamCmd.Flags().StringVar(&streamAddr, "addr", "127.0.0.1:4010", "Address of the UDP receiver")
	streamCmd.Flags().IntVar(&streamFrameMs, "frame-ms", 32, "Frame duration in milliseconds")
	streamCmd.Flags().BoolVar(&streamRealtime, "realtime", true, "Pace frames at their capture rate")
}

func streamWAV(cmd *cobra.Command, args []string) error {
	logger := consoleLogger(cmd)

	samples, info, err := audio.ReadWAVFile(args[0])
	if err != nil {
		return err
	}

	rate := int(info.SampleRate)
	frameSize := audio.FrameSize(rate, streamFrameMs)
	if frameSize <= 0 {
		return fmt.Errorf("frame duration %d ms yields no samples at %d Hz", streamFrameMs, rate)
	}

	sender, err := server.NewSender(streamAddr, logger)
	if err != nil {
		return err
	}
	defer sender.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var interval time.Duration
	if streamRealtime {
		interval = time.Duration(streamFrameMs) * time.Millisecond
	}

	logger.Info("Streaming WAV file",
		slog.String("path", args[0]),
		slog.String("addr", streamAddr),
		slog.Int("sample_rate", rate),
		slog.Int("frame_size", frameSize),
		slog.Duration("duration", audio.SamplesDuration(len(samples), rate)),
	)

	_, err = sender.Stream(ctx, samples, rate, frameSize, interval)
	return err
}
