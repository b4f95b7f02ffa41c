package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.FileDone("completed")
	m.FileDone("completed")
	m.FileDone("failed")
	m.AddBytes("download", 1024)
	m.AddBytes("download", 0)
	m.Retry("server")
	m.Retry("rate_limit")
	m.TransferStarted()
	m.TransferStarted()
	m.TransferFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.files.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues("failed")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytes.WithLabelValues("download")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("server")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FileDone("completed")
		m.AddBytes("size", 10)
		m.Retry("rate_limit")
		m.TransferStarted()
		m.TransferFinished()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.AddBytes("size", 60)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `zoom_recordings_bytes_total{mode="size"} 60`)
}
