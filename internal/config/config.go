package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Drakrig/whisper-vad/internal/vad"
)

// Config represents the complete pipeline configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio" json:"audio"`
	VAD           VADConfig           `yaml:"vad" json:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	Pipeline      PipelineConfig      `yaml:"pipeline" json:"pipeline"`
	UDP           UDPConfig           `yaml:"udp" json:"udp"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Output        OutputConfig        `yaml:"output" json:"output"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// Audio sources
const (
	SourceDevice = "device"
	SourceUDP    = "udp"
	SourceWAV    = "wav"
)

// VAD backends
const (
	VADBackendSilero = "silero"
	VADBackendEnergy = "energy"
)

// Transcription backends
const (
	TranscriptionBackendWhisper = "whisper"
	TranscriptionBackendHTTP    = "http"

	// WhisperSampleRate is the only capture rate the whisper backend takes.
	// The http backend receives a WAV at the capture rate.
	WhisperSampleRate = 16000
)

// Output formats
const (
	OutputText  = "text"
	OutputJSONL = "jsonl"
	OutputNone  = "none"
)

// AudioConfig selects the frame source and the pipeline audio format
type AudioConfig struct {
	Source          string `yaml:"source" json:"source"`
	DeviceName      string `yaml:"device_name" json:"device_name"`
	SampleRate      int    `yaml:"sample_rate" json:"sample_rate"`
	FrameDurationMs int    `yaml:"frame_duration_ms" json:"frame_duration_ms"`
	WAVPath         string `yaml:"wav_path" json:"wav_path"`
	WAVRealtime     bool   `yaml:"wav_realtime" json:"wav_realtime"`
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Backend              string  `yaml:"backend" json:"backend"`
	ModelPath            string  `yaml:"model_path" json:"model_path"`
	ONNXLibraryPath      string  `yaml:"onnx_library_path" json:"onnx_library_path"`
	Threshold            float32 `yaml:"threshold" json:"threshold"`
	MaxSilenceDurationMs int     `yaml:"max_silence_duration_ms" json:"max_silence_duration_ms"`
}

// TranscriptionConfig contains speech-to-text configuration
type TranscriptionConfig struct {
	Backend    string `yaml:"backend" json:"backend"`
	ModelPath  string `yaml:"model_path" json:"model_path"`
	Threads    int    `yaml:"threads" json:"threads"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	Language   string `yaml:"language" json:"language"`
	Timeout    int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// PipelineConfig contains queue sizes and stage timing
type PipelineConfig struct {
	FrameQueueSize     int `yaml:"frame_queue_size" json:"frame_queue_size"`
	UtteranceQueueSize int `yaml:"utterance_queue_size" json:"utterance_queue_size"`
	TextQueueSize      int `yaml:"text_queue_size" json:"text_queue_size"`
	PollTimeoutMs      int `yaml:"poll_timeout_ms" json:"poll_timeout_ms"`
	WakePopTimeoutMs   int `yaml:"wake_pop_timeout_ms" json:"wake_pop_timeout_ms"`
	GracePeriodMs      int `yaml:"grace_period_ms" json:"grace_period_ms"`
	StallWarnAfter     int `yaml:"stall_warn_after" json:"stall_warn_after"`
}

// UDPConfig contains the frame packet receiver configuration
type UDPConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	Port        int    `yaml:"port" json:"port"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
}

// HTTPConfig contains HTTP monitoring server configuration
type HTTPConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Address     string `yaml:"address" json:"address"`
	Port        int    `yaml:"port" json:"port"`
	HistorySize int    `yaml:"history_size" json:"history_size"`
}

// OutputConfig selects where transcripts are written
type OutputConfig struct {
	Format string `yaml:"format" json:"format"`
	Path   string `yaml:"path" json:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	// File adds a rotating log file next to Output.
	File LogFileConfig `yaml:"file" json:"file"`
}

// LogFileConfig configures the rotating log file. An empty Path disables it.
type LogFileConfig struct {
	Path       string `yaml:"path" json:"path"`
	Format     string `yaml:"format" json:"format"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return config, nil
}

// Parse decodes YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero values with their defaults
func (c *Config) ApplyDefaults() {
	a := &c.Audio
	if a.Source == "" {
		a.Source = SourceDevice
	}
	if a.SampleRate == 0 {
		a.SampleRate = 16000
	}
	if a.FrameDurationMs == 0 {
		a.FrameDurationMs = 32
	}

	v := &c.VAD
	if v.Backend == "" {
		v.Backend = VADBackendSilero
	}
	if v.Threshold == 0 {
		v.Threshold = 0.5
	}
	if v.MaxSilenceDurationMs == 0 {
		v.MaxSilenceDurationMs = 1000
	}

	t := &c.Transcription
	if t.Backend == "" {
		t.Backend = TranscriptionBackendWhisper
	}
	if t.Language == "" {
		t.Language = "en"
	}
	if t.Threads == 0 {
		t.Threads = 4
	}
	if t.Timeout == 0 {
		t.Timeout = 30
	}

	p := &c.Pipeline
	if p.FrameQueueSize == 0 {
		p.FrameQueueSize = 256
	}
	if p.UtteranceQueueSize == 0 {
		p.UtteranceQueueSize = 16
	}
	if p.TextQueueSize == 0 {
		p.TextQueueSize = 64
	}
	if p.PollTimeoutMs == 0 {
		p.PollTimeoutMs = 1000
	}
	if p.WakePopTimeoutMs == 0 {
		p.WakePopTimeoutMs = 250
	}
	if p.GracePeriodMs == 0 {
		p.GracePeriodMs = 5000
	}
	if p.StallWarnAfter == 0 {
		p.StallWarnAfter = 5
	}

	u := &c.UDP
	if u.BindAddress == "" {
		u.BindAddress = "0.0.0.0"
	}
	if u.Port == 0 {
		u.Port = 4010
	}
	if u.BufferSize == 0 {
		u.BufferSize = 65536
	}

	h := &c.HTTP
	if h.Address == "" {
		h.Address = "127.0.0.1"
	}
	if h.Port == 0 {
		h.Port = 8080
	}
	if h.HistorySize == 0 {
		h.HistorySize = 100
	}

	if c.Output.Format == "" {
		c.Output.Format = OutputText
	}

	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stderr"
	}
	if l.File.Path != "" {
		if l.File.Format == "" {
			l.File.Format = "text"
		}
		if l.File.MaxSizeMB == 0 {
			l.File.MaxSizeMB = 5
		}
		if l.File.MaxBackups == 0 {
			l.File.MaxBackups = 3
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(c.Audio.FrameDurationMs); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if c.Transcription.Backend == TranscriptionBackendWhisper && c.Audio.SampleRate != WhisperSampleRate {
		return fmt.Errorf("transcription config: the whisper backend requires sample_rate %d, got %d",
			WhisperSampleRate, c.Audio.SampleRate)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if c.Audio.Source == SourceUDP {
		if err := c.UDP.Validate(); err != nil {
			return fmt.Errorf("udp config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Redacted returns a copy of the configuration safe to expose over HTTP
func (c *Config) Redacted() Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "***"
	}
	return out
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Source {
	case SourceDevice, SourceUDP:
	case SourceWAV:
		if a.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty when source is %q", SourceWAV)
		}
	default:
		return fmt.Errorf("source must be one of [device, udp, wav], got '%s'", a.Source)
	}

	if vad.FrameSamples(a.SampleRate) == 0 {
		return fmt.Errorf("sample_rate must be 8000 Hz or a multiple of 16000 Hz, got %d", a.SampleRate)
	}

	if a.FrameDurationMs < 1 || a.FrameDurationMs > 1000 {
		return fmt.Errorf("frame_duration_ms must be between 1 and 1000, got %d", a.FrameDurationMs)
	}

	if got, want := a.SampleRate*a.FrameDurationMs/1000, vad.FrameSamples(a.SampleRate); got != want {
		return fmt.Errorf("frame_duration_ms %d yields %d samples at %d Hz, the VAD window needs %d",
			a.FrameDurationMs, got, a.SampleRate, want)
	}

	return nil
}

// Validate validates VAD configuration against the frame duration
func (v *VADConfig) Validate(frameDurationMs int) error {
	switch v.Backend {
	case VADBackendSilero:
		if v.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for the silero backend")
		}
	case VADBackendEnergy:
	default:
		return fmt.Errorf("backend must be 'silero' or 'energy', got '%s'", v.Backend)
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.MaxSilenceDurationMs < frameDurationMs {
		return fmt.Errorf("max_silence_duration_ms (%d) must be at least one frame (%d ms)",
			v.MaxSilenceDurationMs, frameDurationMs)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case TranscriptionBackendWhisper:
		if t.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for the whisper backend")
		}
		if t.Threads < 1 {
			return fmt.Errorf("threads must be at least 1, got %d", t.Threads)
		}
	case TranscriptionBackendHTTP:
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	default:
		return fmt.Errorf("backend must be 'whisper' or 'http', got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.FrameQueueSize < 1 {
		return fmt.Errorf("frame_queue_size must be at least 1, got %d", p.FrameQueueSize)
	}

	if p.UtteranceQueueSize < 1 {
		return fmt.Errorf("utterance_queue_size must be at least 1, got %d", p.UtteranceQueueSize)
	}

	if p.TextQueueSize < 1 {
		return fmt.Errorf("text_queue_size must be at least 1, got %d", p.TextQueueSize)
	}

	if p.PollTimeoutMs < 1 {
		return fmt.Errorf("poll_timeout_ms must be positive, got %d", p.PollTimeoutMs)
	}

	if p.WakePopTimeoutMs < 1 {
		return fmt.Errorf("wake_pop_timeout_ms must be positive, got %d", p.WakePopTimeoutMs)
	}

	if p.GracePeriodMs < p.PollTimeoutMs {
		return fmt.Errorf("grace_period_ms (%d) must not be shorter than poll_timeout_ms (%d)",
			p.GracePeriodMs, p.PollTimeoutMs)
	}

	if p.StallWarnAfter < 1 {
		return fmt.Errorf("stall_warn_after must be at least 1, got %d", p.StallWarnAfter)
	}

	return nil
}

// Validate validates UDP receiver configuration
func (u *UDPConfig) Validate() error {
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if u.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", u.BufferSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.HistorySize < 0 {
		return fmt.Errorf("history_size cannot be negative, got %d", h.HistorySize)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	switch o.Format {
	case OutputText, OutputJSONL, OutputNone:
		return nil
	default:
		return fmt.Errorf("format must be one of [text, jsonl, none], got '%s'", o.Format)
	}
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be one of [json, text, console], got '%s'", l.Format)
	}

	if l.File.Path == "" {
		return nil
	}
	if l.File.Format != "json" && l.File.Format != "text" {
		return fmt.Errorf("file.format must be 'json' or 'text', got '%s'", l.File.Format)
	}
	if l.File.MaxSizeMB < 1 {
		return fmt.Errorf("file.max_size_mb must be at least 1, got %d", l.File.MaxSizeMB)
	}
	if l.File.MaxBackups < 0 || l.File.MaxAgeDays < 0 {
		return fmt.Errorf("file.max_backups and file.max_age_days cannot be negative")
	}

	return nil
}

// GetFrameDuration returns the frame duration as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

// GetMaxSilenceDuration returns the silence limit as a time.Duration
func (v *VADConfig) GetMaxSilenceDuration() time.Duration {
	return time.Duration(v.MaxSilenceDurationMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetPollTimeout returns the stage poll timeout as a time.Duration
func (p *PipelineConfig) GetPollTimeout() time.Duration {
	return time.Duration(p.PollTimeoutMs) * time.Millisecond
}

// GetWakePopTimeout returns the post-wake pop timeout as a time.Duration
func (p *PipelineConfig) GetWakePopTimeout() time.Duration {
	return time.Duration(p.WakePopTimeoutMs) * time.Millisecond
}

// GetGracePeriod returns the shutdown grace period as a time.Duration
func (p *PipelineConfig) GetGracePeriod() time.Duration {
	return time.Duration(p.GracePeriodMs) * time.Millisecond
}

// Address returns the UDP listen address
func (u *UDPConfig) Address() string {
	return fmt.Sprintf("%s:%d", u.BindAddress, u.Port)
}

// ListenAddress returns the HTTP listen address
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
