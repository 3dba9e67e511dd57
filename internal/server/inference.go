package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Drakrig/whisper-vad/internal/audio"
)

const maxInferenceUpload = 32 << 20

// Responder produces the transcript a mock inference server returns for a
// decoded upload.
type Responder func(samples []float32, info *audio.WAVInfo) string

// DescribeUpload is the default Responder. It reports what it received, which
// is enough to check a recording end to end without a model.
func DescribeUpload(samples []float32, info *audio.WAVInfo) string {
	return fmt.Sprintf("received %.2fs of audio at %d Hz (rms %.3f)",
		info.Duration, info.SampleRate, audio.RMS(samples))
}

// InferenceMock serves a whisper.cpp compatible POST /inference endpoint
// without a model. It is meant for exercising the http transcription backend
// locally.
type InferenceMock struct {
	logger   *slog.Logger
	respond  Responder
	delay    time.Duration
	requests atomic.Uint64
	rejected atomic.Uint64
}

// NewInferenceMock creates the handler. A nil respond uses DescribeUpload.
func NewInferenceMock(logger *slog.Logger, respond Responder, delay time.Duration) *InferenceMock {
	if respond == nil {
		respond = DescribeUpload
	}
	return &InferenceMock{logger: logger, respond: respond, delay: delay}
}

// Handler routes /inference and /v1/audio/transcriptions to the mock.
func (m *InferenceMock) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", m.handleInference)
	mux.HandleFunc("/v1/audio/transcriptions", m.handleInference)
	return mux
}

// Requests returns how many uploads were accepted and rejected.
func (m *InferenceMock) Requests() (accepted, rejected uint64) {
	return m.requests.Load(), m.rejected.Load()
}

func (m *InferenceMock) reject(w http.ResponseWriter, msg string, code int) {
	m.rejected.Add(1)
	writeJSON(w, code, map[string]string{"error": msg})
}

func (m *InferenceMock) handleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxInferenceUpload); err != nil {
		m.reject(w, "error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		m.reject(w, "missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		m.reject(w, "error reading audio file", http.StatusInternalServerError)
		return
	}

	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		m.reject(w, fmt.Sprintf("invalid wav: %v", err), http.StatusBadRequest)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	m.logger.Info("Inference request received",
		slog.String("request_id", requestID),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_s", info.Duration),
		slog.String("language", r.FormValue("language")),
		slog.String("response_format", r.FormValue("response_format")),
	)

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-r.Context().Done():
			return
		}
	}

	text := m.respond(samples, info)
	m.requests.Add(1)

	if strings.EqualFold(r.FormValue("response_format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, text)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
