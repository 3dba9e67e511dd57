package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/transcription"
)

// Sink receives every final transcript. Deliver is called from a single
// goroutine.
type Sink interface {
	Deliver(t transcription.Transcript) error
	Close() error
}

// LogSink logs each transcript.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing transcripts to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(t transcription.Transcript) error {
	s.logger.Info("Transcript",
		slog.String("utterance_id", t.UtteranceID),
		slog.String("text", t.Text),
		slog.Duration("duration", t.Duration),
		slog.Duration("latency", t.Latency),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// WriterSink writes transcripts as plain text lines or JSON lines.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	format string
	enc    *json.Encoder
}

// NewWriterSink creates a sink writing to w in format (text or jsonl).
func NewWriterSink(w io.Writer, format string) (*WriterSink, error) {
	switch format {
	case config.OutputText, config.OutputJSONL:
	default:
		return nil, fmt.Errorf("unsupported transcript format '%s'", format)
	}
	return &WriterSink{w: w, format: format, enc: json.NewEncoder(w)}, nil
}

// OpenFileSink creates a sink appending to path, or writing to stdout when
// path is empty.
func OpenFileSink(path, format string) (*WriterSink, error) {
	if path == "" {
		return NewWriterSink(os.Stdout, format)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file %s: %w", path, err)
	}

	sink, err := NewWriterSink(file, format)
	if err != nil {
		file.Close()
		return nil, err
	}
	sink.closer = file
	return sink, nil
}

func (s *WriterSink) Deliver(t transcription.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == config.OutputJSONL {
		return s.enc.Encode(t)
	}
	_, err := fmt.Fprintf(s.w, "[%s +%.2fs] %s\n",
		t.StartTime.Format("15:04:05.000"), t.Duration.Seconds(), t.Text)
	return err
}

func (s *WriterSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// History keeps the most recent transcripts in a fixed-size ring.
type History struct {
	mu    sync.RWMutex
	items []transcription.Transcript
	next  int
	count int
}

// NewHistory creates a history holding up to size transcripts.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{items: make([]transcription.Transcript, size)}
}

func (h *History) Deliver(t transcription.Transcript) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.next] = t
	h.next = (h.next + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
	return nil
}

func (h *History) Close() error { return nil }

// Recent returns up to n transcripts, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []transcription.Transcript {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]transcription.Transcript, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// Len returns the number of transcripts held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
