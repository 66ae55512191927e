package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument(t *testing.T) {
	m := New()
	h := m.Instrument("music", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/music", strings.NewReader("abc"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.requestBytes.WithLabelValues("music")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.responseBytes.WithLabelValues("music")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDurations))
}

func TestCounters(t *testing.T) {
	m := New()
	m.Upload("ok")
	m.Upload("ok")
	m.Upload("invalid")
	m.BlobBytesServed(42)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.blobBytesServed))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "musicbox_uploads_total")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Upload("ok")
	m.BlobBytesServed(1)

	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	m.Instrument("x", next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
