package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Drakrig/whisper-vad/internal/audio"
	"github.com/Drakrig/whisper-vad/internal/capture"
	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/protocol"
	"github.com/Drakrig/whisper-vad/internal/stage"
)

// UDPReceiver is a capture.Device fed by frame packets arriving over UDP.
// Packets are handled by a single receive goroutine so frame order is the
// arrival order of the sender's sequence numbers.
type UDPReceiver struct {
	conn    *net.UDPConn
	config  *config.UDPConfig
	device  capture.DeviceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames chan audio.Frame

	// Receive loop state, owned by the receive goroutine
	lastSeq  uint32
	haveSeq  bool
	rejected bool
	ended    bool
	pending  audio.Status

	packetsReceived atomic.Uint64
	framesQueued    atomic.Uint64
	parseErrors     atomic.Uint64
	sequenceGaps    atomic.Uint64
	missingFrames   atomic.Uint64
	duplicates      atomic.Uint64
	dropped         atomic.Uint64
}

// ReceiverStatistics represents receiver counters
type ReceiverStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	FramesQueued    uint64 `json:"frames_queued"`
	ParseErrors     uint64 `json:"parse_errors"`
	SequenceGaps    uint64 `json:"sequence_gaps"`
	MissingFrames   uint64 `json:"missing_frames"`
	Duplicates      uint64 `json:"duplicates"`
	DroppedFrames   uint64 `json:"dropped_frames"`
	QueueSize       int    `json:"queue_size"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// NewUDPReceiver creates a receiver producing frames of the given shape.
// queueSize bounds the frames buffered between the socket and the frame
// source stage.
func NewUDPReceiver(cfg *config.UDPConfig, device capture.DeviceConfig, queueSize int, logger *slog.Logger, m *metrics.Metrics) *UDPReceiver {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPReceiver{
		config:  cfg,
		device:  device,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		frames:  make(chan audio.Frame, queueSize),
	}
}

// Name implements capture.Device.
func (s *UDPReceiver) Name() string {
	return "udp:" + s.config.Address()
}

// Open starts listening for frame packets
func (s *UDPReceiver) Open() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP receiver started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("sample_rate", s.device.SampleRate),
		slog.Int("frame_size", s.device.FrameSize()),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound local address, or nil before Open.
func (s *UDPReceiver) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ReadFrame implements capture.Device. Once an end packet was received and
// every queued frame was read it returns capture.ErrEndOfStream.
func (s *UDPReceiver) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	frame, err := stage.Pop(s.frames, timeout)
	if errors.Is(err, stage.ErrClosed) {
		return audio.Frame{}, capture.ErrEndOfStream
	}
	return frame, err
}

// Close stops the receive loop and releases the socket
func (s *UDPReceiver) Close() error {
	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP receiver stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("frames_queued", stats.FramesQueued),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("dropped_frames", stats.DroppedFrames),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPReceiver) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived()

		if s.ended {
			s.logger.Debug("Ignoring packet after end of stream", slog.String("remote_addr", remoteAddr.String()))
			continue
		}

		s.handlePacket(buffer[:n], remoteAddr)
	}
}

// handlePacket processes a single incoming packet
func (s *UDPReceiver) handlePacket(data []byte, remoteAddr *net.UDPAddr) {
	packet, err := protocol.ParsePacket(data)
	if err != nil {
		s.parseErrors.Add(1)
		s.metrics.RecordParseError()
		s.logger.Warn("Failed to parse packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch packet.Header.PacketType {
	case protocol.PacketTypeStart:
		s.processStartPacket(packet.Header, packet.Start, remoteAddr)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(packet.Header, packet.Samples)
	case protocol.PacketTypeEnd:
		s.logger.Info("End of stream received",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Uint64("sequence", uint64(packet.Header.Sequence)),
		)
		s.ended = true
		close(s.frames)
	}
}

// processStartPacket checks the announced stream parameters. A stream whose
// parameters differ from the pipeline's is rejected until a matching start
// packet arrives.
func (s *UDPReceiver) processStartPacket(header *protocol.Header, start *protocol.StartPayload, remoteAddr *net.UDPAddr) {
	s.haveSeq = false
	s.pending = audio.StatusOK

	if int(start.SampleRate) != s.device.SampleRate || int(start.FrameSize) != s.device.FrameSize() {
		s.rejected = true
		s.logger.Error("Rejecting stream with mismatched parameters",
			slog.String("remote_addr", remoteAddr.String()),
			slog.String("announced", start.String()),
			slog.Int("expected_sample_rate", s.device.SampleRate),
			slog.Int("expected_frame_size", s.device.FrameSize()),
		)
		return
	}

	s.rejected = false
	s.logger.Info("Stream started",
		slog.String("remote_addr", remoteAddr.String()),
		slog.Uint64("sequence", uint64(header.Sequence)),
	)
}

// processAudioPacket queues one frame. Lost sequence numbers and frames
// dropped on a full queue are reported on the next queued frame's status.
func (s *UDPReceiver) processAudioPacket(header *protocol.Header, samples []float32) {
	if s.rejected {
		return
	}

	if len(samples) != s.device.FrameSize() {
		s.parseErrors.Add(1)
		s.metrics.RecordParseError()
		s.logger.Warn("Dropping frame with unexpected size",
			slog.Uint64("sequence", uint64(header.Sequence)),
			slog.Int("samples", len(samples)),
			slog.Int("expected", s.device.FrameSize()),
		)
		return
	}

	if s.haveSeq {
		switch {
		case header.Sequence <= s.lastSeq:
			s.duplicates.Add(1)
			s.logger.Debug("Dropping duplicate or late frame",
				slog.Uint64("sequence", uint64(header.Sequence)),
				slog.Uint64("last_sequence", uint64(s.lastSeq)),
			)
			return
		case header.Sequence > s.lastSeq+1:
			missing := int(header.Sequence - s.lastSeq - 1)
			s.sequenceGaps.Add(1)
			s.missingFrames.Add(uint64(missing))
			s.metrics.RecordSequenceGap(missing)
			s.pending |= audio.StatusInputUnderflow
		}
	}
	s.lastSeq = header.Sequence
	s.haveSeq = true

	frame := audio.Frame{
		Samples:    samples,
		SampleRate: s.device.SampleRate,
		Sequence:   uint64(header.Sequence),
		CapturedAt: time.Now(),
		Status:     audio.Status(header.Status) | s.pending,
	}

	select {
	case s.frames <- frame:
		s.framesQueued.Add(1)
		s.pending = audio.StatusOK
	default:
		s.dropped.Add(1)
		s.pending |= audio.StatusInputOverflow
		s.logger.Warn("Frame queue full, dropping frame",
			slog.Uint64("sequence", uint64(header.Sequence)),
		)
	}
}

// GetStatistics returns current receiver statistics
func (s *UDPReceiver) GetStatistics() ReceiverStatistics {
	return ReceiverStatistics{
		PacketsReceived: s.packetsReceived.Load(),
		FramesQueued:    s.framesQueued.Load(),
		ParseErrors:     s.parseErrors.Load(),
		SequenceGaps:    s.sequenceGaps.Load(),
		MissingFrames:   s.missingFrames.Load(),
		Duplicates:      s.duplicates.Load(),
		DroppedFrames:   s.dropped.Load(),
		QueueSize:       len(s.frames),
		QueueCapacity:   cap(s.frames),
	}
}
