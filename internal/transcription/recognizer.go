package transcription

import (
	"context"
	"time"
)

// Recognizer converts one complete utterance to text. Implementations are
// called from a single goroutine and need not be safe for concurrent use.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Close() error
}

// Transcript is the text recognized for one utterance.
type Transcript struct {
	UtteranceID string        `json:"utterance_id"`
	Text        string        `json:"text"`
	Language    string        `json:"language,omitempty"`
	StartSeq    uint64        `json:"start_seq"`
	EndSeq      uint64        `json:"end_seq"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration"`
	Confidence  float32       `json:"confidence"`
	Latency     time.Duration `json:"latency"`
	CreatedAt   time.Time     `json:"created_at"`
}
