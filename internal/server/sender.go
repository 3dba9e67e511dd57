package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/protocol"
)

// Sender streams frames to a UDPReceiver. It numbers packets itself, so a
// Sender carries exactly one stream.
type Sender struct {
	conn   *net.UDPConn
	logger *slog.Logger
	seq    uint32
}

// NewSender dials the receiver at addr
func NewSender(addr string, logger *slog.Logger) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &Sender{conn: conn, logger: logger}, nil
}

func (s *Sender) write(packet []byte) error {
	if _, err := s.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send packet %d: %w", s.seq, err)
	}
	s.seq++
	return nil
}

// Start announces the stream parameters
func (s *Sender) Start(sampleRate, frameSize int) error {
	packet, err := protocol.EncodeStart(s.seq, sampleRate, frameSize)
	if err != nil {
		return err
	}
	return s.write(packet)
}

// SendFrame sends one frame of samples
func (s *Sender) SendFrame(samples []float32, status audio.Status) error {
	packet, err := protocol.EncodeAudio(s.seq, uint8(status), samples)
	if err != nil {
		return err
	}
	return s.write(packet)
}

// End tells the receiver no more frames follow
func (s *Sender) End() error {
	return s.write(protocol.EncodeEnd(s.seq))
}

// Stream sends samples as a complete stream of frameSize frames, padding the
// last one with silence. Frames are spaced by interval; zero sends as fast
// as possible.
func (s *Sender) Stream(ctx context.Context, samples []float32, sampleRate, frameSize int, interval time.Duration) (int, error) {
	frames, err := audio.SliceFrames(samples, frameSize, true)
	if err != nil {
		return 0, err
	}

	if err := s.Start(sampleRate, frameSize); err != nil {
		return 0, err
	}

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for i, frame := range frames {
		if ticker != nil && i > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return i, err
		}

		if err := s.SendFrame(frame, audio.StatusOK); err != nil {
			return i, err
		}
	}

	if err := s.End(); err != nil {
		return len(frames), err
	}

	s.logger.Info("Stream sent",
		slog.String("remote_addr", s.conn.RemoteAddr().String()),
		slog.Int("frames", len(frames)),
		slog.Duration("duration", audio.SamplesDuration(len(frames)*frameSize, sampleRate)),
	)

	return len(frames), nil
}

// Close releases the socket
func (s *Sender) Close() error {
	return s.conn.Close()
}
