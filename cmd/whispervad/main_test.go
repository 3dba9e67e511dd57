package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Drakrig/whisper-vad/internal/capture"
	"github.com/Drakrig/whisper-vad/internal/config"
)

func TestPrintDevices(t *testing.T) {
	devices := []capture.DeviceInfo{
		{Index: 0, Name: "Built-in Microphone", Default: true},
		{Index: 1, Name: "USB Headset"},
	}

	var buf bytes.Buffer
	if err := printDevices(&buf, devices, false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Built-in Microphone") || !strings.Contains(out, "USB Headset") {
		t.Errorf("Expected both devices in output, got %q", out)
	}
	if !strings.Contains(out, "INDEX") || !strings.Contains(out, "NAME") {
		t.Errorf("Expected table header, got %q", out)
	}
	if !strings.Contains(out, "|") {
		t.Errorf("Expected column separators, got %q", out)
	}

	buf.Reset()
	if err := printDevices(&buf, devices, true); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "USB Headset"`) {
		t.Errorf("Expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	printDevices(&buf, nil, false)
	if !strings.Contains(buf.String(), "No capture devices found") {
		t.Errorf("Expected empty notice, got %q", buf.String())
	}
}

func TestApplyReloadChangesLevel(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	levelVar := &slog.LevelVar{}

	old := config.Default()
	updated := config.Default()
	updated.Logging.Level = "debug"

	applyReload(logger, levelVar, old, updated)

	if levelVar.Level() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", levelVar.Level())
	}
	if strings.Contains(logs.String(), "after restart") {
		t.Errorf("Expected no restart warning for a level-only change, got %q", logs.String())
	}
}

func TestApplyReloadWarnsOnRestartOnlyChanges(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	levelVar := &slog.LevelVar{}

	old := config.Default()
	updated := config.Default()
	updated.VAD.Threshold = 0.7

	applyReload(logger, levelVar, old, updated)

	if levelVar.Level() != slog.LevelInfo {
		t.Errorf("Expected level unchanged, got %v", levelVar.Level())
	}
	if !strings.Contains(logs.String(), "after restart") {
		t.Errorf("Expected restart warning, got %q", logs.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if code := execute(); code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if !strings.Contains(buf.String(), serviceVersion) {
		t.Errorf("Expected version in output, got %q", buf.String())
	}
}

func TestBuildSinks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Output.Format = config.OutputNone
	sinks, history, err := buildSinks(cfg, logger)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sinks) != 1 || history != nil {
		t.Errorf("Expected only the log sink, got %d sinks and history %v", len(sinks), history)
	}

	cfg.Output.Format = config.OutputJSONL
	cfg.Output.Path = t.TempDir() + "/out.jsonl"
	cfg.HTTP.Enabled = true
	sinks, history, err = buildSinks(cfg, logger)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sinks) != 3 || history == nil {
		t.Errorf("Expected log, file and history sinks, got %d sinks", len(sinks))
	}
	for _, s := range sinks {
		s.Close()
	}
}
