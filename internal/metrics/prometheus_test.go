package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFrame("ok", false)
		m.RecordSourceStall()
		m.RecordVADInference(true, 0.001)
		m.RecordUtterance(1.5, 0.9)
		m.SetQueueDepth("frames", 3)
		m.RecordStageTermination("segmenter", "forced")
	})
}

func TestRecordersUpdateCounters(t *testing.T) {
	m := NewMetrics(NewRegistry())

	m.RecordFrame("ok", false)
	m.RecordFrame("input_overflow", true)
	m.RecordVADInference(true, 0.001)
	m.RecordVADInference(false, 0.001)
	m.RecordUtterance(2, 0.8)
	m.SetQueueDepth("utterances", 4)
	m.RecordStageTermination("transcriber", "forced")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesCaptured))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameStatus.WithLabelValues("input_overflow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VADInferences))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VADSpeechFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UtterancesEmitted))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("utterances")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTerminations.WithLabelValues("transcriber", "forced")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(NewRegistry())
	m.RecordUtterance(1, 0.5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "whispervad_utterances_emitted_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(NewRegistry())
		NewMetrics(NewRegistry())
	})
}
