package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Drakrig/whisper-vad/internal/config"
	"github.com/Drakrig/whisper-vad/internal/metrics"
	"github.com/Drakrig/whisper-vad/internal/pipeline"
	"github.com/Drakrig/whisper-vad/internal/transcription"
)

const serviceName = "whisper-vad"

// StatsProvider is the part of the pipeline the monitoring API reads.
type StatsProvider interface {
	GetStats() pipeline.Stats
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   func() *config.Config
	provider StatsProvider
	history  *pipeline.History
	receiver *UDPReceiver
	client   *transcription.Client
	metrics  *metrics.Metrics
	version  string

	startTime time.Time
}

// HTTPServerOptions carries the optional collaborators of the API.
type HTTPServerOptions struct {
	// Config returns the configuration currently in effect.
	Config func() *config.Config
	// History backs /transcripts. Nil disables the endpoint.
	History *pipeline.History
	// Receiver adds network receiver counters to /stats when the UDP source
	// is in use.
	Receiver *UDPReceiver
	// Client adds request counters of the http transcription backend.
	Client  *transcription.Client
	Version string
}

// NewHTTPServer creates a new HTTP monitoring server
func NewHTTPServer(cfg *config.HTTPConfig, logger *slog.Logger, p StatsProvider, m *metrics.Metrics, opts HTTPServerOptions) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    opts.Config,
		provider:  p,
		history:   opts.History,
		receiver:  opts.Receiver,
		client:    opts.Client,
		metrics:   m,
		version:   opts.Version,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleTranscripts))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server", slog.String("address", listener.Addr().String()))

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.provider.GetStats()
	status, code := "healthy", http.StatusOK
	if !stats.Running {
		status, code = "stopped", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": h.version,
		},
		"components": map[string]any{
			"source": map[string]any{
				"device": stats.Source.Device,
				"frames": stats.Source.Frames,
			},
			"segmenter": map[string]any{
				"utterances":      stats.Segmenter.Utterances,
				"buffered_frames": stats.Segmenter.BufferedFrames,
			},
			"transcriber": map[string]any{
				"transcripts": stats.Transcriber.Transcripts,
				"failures":    stats.Transcriber.Failures,
				"in_flight":   stats.Transcriber.InFlight,
			},
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"timestamp": time.Now().UTC(),
		"pipeline":  h.provider.GetStats(),
	}
	if h.receiver != nil {
		response["udp"] = h.receiver.GetStatistics()
	}
	if h.client != nil {
		response["transcription_client"] = h.client.GetStats()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config == nil || h.config() == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, h.config().Redacted())
}

// handleTranscripts implements the /transcripts endpoint
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.history == nil {
		http.Error(w, "Transcript history disabled", http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	transcripts := h.history.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(transcripts),
		"timestamp":   time.Now().UTC(),
		"transcripts": transcripts,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": h.version,
		"endpoints": map[string]any{
			"GET /":                    "API documentation",
			"GET /health":              "Pipeline health check",
			"GET /stats":               "Stage statistics and queue depths",
			"GET /config":              "Configuration in effect (secrets redacted)",
			"GET /transcripts?limit=N": "Most recent transcripts, newest first",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
