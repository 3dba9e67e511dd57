package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Drakrig/whisper-vad/internal/audio"
)

func testSamples() []float32 {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.1
	}
	return samples
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{Endpoint: "http://localhost:1/inference", MaxRetries: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, c.config.MaxRetries)
	assert.Equal(t, 30*time.Second, c.config.Timeout)
	assert.Equal(t, "json", c.config.ResponseFormat)
}

func TestClientSendsWAVAndLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "de", r.FormValue("language"))
		assert.Equal(t, "json", r.FormValue("response_format"))

		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)

		samples, info, err := audio.DecodeWAV(data)
		if assert.NoError(t, err) {
			assert.Equal(t, uint32(16000), info.SampleRate)
			assert.Len(t, samples, 1600)
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  guten Tag \n"})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "secret", Language: "de"}, nil)
	require.NoError(t, err)

	text, err := c.Transcribe(context.Background(), testSamples(), 16000)
	require.NoError(t, err)
	assert.Equal(t, "guten Tag", text)
	assert.Equal(t, uint64(1), c.GetStats().SuccessRequests)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, MaxRetries: 3, RetryBackoff: time.Millisecond}, nil)
	require.NoError(t, err)

	text, err := c.Transcribe(context.Background(), testSamples(), 16000)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(2), c.GetStats().TotalRetries)
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, MaxRetries: 3, RetryBackoff: time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), testSamples(), 16000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP error 400")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
}

func TestClientTextResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain words\n")
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, ResponseFormat: "text"}, nil)
	require.NoError(t, err)

	text, err := c.Transcribe(context.Background(), testSamples(), 16000)
	require.NoError(t, err)
	assert.Equal(t, "plain words", text)
}

func TestClientRejectsEmptyUtterance(t *testing.T) {
	c, err := NewClient(ClientConfig{Endpoint: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = c.Transcribe(context.Background(), nil, 16000)
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&statusError{code: 500}))
	assert.True(t, isRetryableError(&statusError{code: 429}))
	assert.False(t, isRetryableError(&statusError{code: 404}))
	assert.True(t, isRetryableError(context.DeadlineExceeded))
}

func TestClientCancelStopsBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, MaxRetries: 3, RetryBackoff: 10 * time.Second}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err = c.Transcribe(ctx, testSamples(), 16000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientFinishesRequestInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "kept"})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	text, err := c.Transcribe(ctx, testSamples(), 16000)
	require.NoError(t, err)
	assert.Equal(t, "kept", text)
}
