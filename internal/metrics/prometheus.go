package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whispervad"

// Metrics contains all Prometheus metrics for the pipeline. A nil *Metrics
// is valid and records nothing, which keeps stages usable without a registry.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesCaptured prometheus.Counter
	FrameStatus    *prometheus.CounterVec
	SourceStalls   prometheus.Counter

	// Network capture metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	SequenceGaps    prometheus.Counter

	// VAD metrics
	VADInferences     prometheus.Counter
	VADSpeechFrames   prometheus.Counter
	VADErrors         prometheus.Counter
	VADProcessingTime prometheus.Histogram

	// Segmentation metrics
	UtterancesEmitted   prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	UtteranceConfidence prometheus.Histogram
	SegmenterStalls     prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter
	EmptyWakes             prometheus.Counter

	// Pipeline metrics
	QueueDepth        *prometheus.GaugeVec
	StageTerminations *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates all metrics and registers them with reg. Each pipeline
// needs its own registry; registering twice on the same one panics.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of audio frames read from the capture device",
		}),
		FrameStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_status_total",
			Help:      "Total number of frames flagged with a device status condition",
		}, []string{"status"}),
		SourceStalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_stalls_total",
			Help:      "Total number of frame push timeouts caused by a slow segmenter",
		}),

		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_packets_received_total",
			Help:      "Total number of UDP frame packets received",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_parse_errors_total",
			Help:      "Total number of frame packet parsing errors",
		}),
		SequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_sequence_gaps_total",
			Help:      "Total number of frames missing from the UDP sequence",
		}),

		VADInferences: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_inferences_total",
			Help:      "Total number of VAD inferences",
		}),
		VADSpeechFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_speech_frames_total",
			Help:      "Total number of frames classified as speech",
		}),
		VADErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_errors_total",
			Help:      "Total number of failed VAD inferences",
		}),
		VADProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vad_processing_duration_seconds",
			Help:      "Time spent in one VAD inference",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),

		UtterancesEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_emitted_total",
			Help:      "Total number of utterances handed to the transcriber",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Audio duration of emitted utterances",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~1 minute
		}),
		UtteranceConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_confidence",
			Help:      "Mean speech probability of emitted utterances",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		SegmenterStalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmenter_stalls_total",
			Help:      "Total number of utterance push timeouts caused by a busy transcriber",
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "Total number of speech-to-text calls",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_successes_total",
			Help:      "Total number of successful speech-to-text calls",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Total number of failed speech-to-text calls",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of speech-to-text calls",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_retries_total",
			Help:      "Total number of speech-to-text request retries",
		}),
		EmptyWakes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriber_empty_wakes_total",
			Help:      "Total number of wake-ups that found no utterance queued",
		}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of items waiting in an inter-stage queue",
		}, []string{"queue"}),
		StageTerminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_terminations_total",
			Help:      "Stage shutdowns by outcome (clean, failed, forced)",
		}, []string{"stage", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFrame records a frame read from the device and its status flags.
func (m *Metrics) RecordFrame(status string, flagged bool) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	if flagged {
		m.FrameStatus.WithLabelValues(status).Inc()
	}
}

// RecordSourceStall increments the frame push stall counter.
func (m *Metrics) RecordSourceStall() {
	if m == nil {
		return
	}
	m.SourceStalls.Inc()
}

// RecordPacketReceived increments the packets received counter.
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordParseError increments the parse errors counter.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordSequenceGap adds the number of frames missing from a sequence.
func (m *Metrics) RecordSequenceGap(missing int) {
	if m == nil {
		return
	}
	m.SequenceGaps.Add(float64(missing))
}

// RecordVADInference records one VAD inference.
func (m *Metrics) RecordVADInference(speech bool, processingTimeSeconds float64) {
	if m == nil {
		return
	}
	m.VADInferences.Inc()
	if speech {
		m.VADSpeechFrames.Inc()
	}
	m.VADProcessingTime.Observe(processingTimeSeconds)
}

// RecordVADError increments the VAD error counter.
func (m *Metrics) RecordVADError() {
	if m == nil {
		return
	}
	m.VADErrors.Inc()
}

// RecordUtterance records an emitted utterance.
func (m *Metrics) RecordUtterance(durationSeconds float64, confidence float64) {
	if m == nil {
		return
	}
	m.UtterancesEmitted.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceConfidence.Observe(confidence)
}

// RecordSegmenterStall increments the utterance push stall counter.
func (m *Metrics) RecordSegmenterStall() {
	if m == nil {
		return
	}
	m.SegmenterStalls.Inc()
}

// RecordTranscriptionRequest increments the transcription requests counter.
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription.
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription.
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter.
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordEmptyWake increments the empty wake counter.
func (m *Metrics) RecordEmptyWake() {
	if m == nil {
		return
	}
	m.EmptyWakes.Inc()
}

// SetQueueDepth sets the current depth of a named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordStageTermination records how a stage ended.
func (m *Metrics) RecordStageTermination(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageTerminations.WithLabelValues(stage, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
