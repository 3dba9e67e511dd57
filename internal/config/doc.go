// Package config provides configuration loading and validation for the whisper-vad pipeline.
// It handles YAML-based configuration with per-section validation, fills unset fields with
// defaults, and can watch the configuration file for changes to the logging level.
package config
