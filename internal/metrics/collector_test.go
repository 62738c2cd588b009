package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCollector_Independent(t *testing.T) {
	// Own registries mean two collectors with the same namespace do not clash.
	a := NewCollector("mentor", zap.NewNop())
	b := NewCollector("mentor", zap.NewNop())
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestCollector_RecordRetrieval(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordRetrieval("similarity", nil, 10*time.Millisecond, 4)
	c.RecordRetrieval("similarity", nil, 5*time.Millisecond, 4)
	c.RecordRetrieval("similarity", errors.New("boom"), time.Millisecond, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.retrievalsTotal.WithLabelValues("similarity", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrievalsTotal.WithLabelValues("similarity", "error")))
}

func TestCollector_RecordBuildAndReady(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordBuild("cold", nil, time.Second, 42)
	c.SetReady(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.buildsTotal.WithLabelValues("cold", "success")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.indexSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ready))

	c.SetReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ready))
}

func TestCollector_HandlerExposesMetrics(t *testing.T) {
	c := NewCollector("test", zap.NewNop())
	c.RecordHTTPRequest("POST", "/ask", 200, 20*time.Millisecond)
	c.RecordGeneration("llama3.2:1b", nil, time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `test_http_requests_total{method="POST",path="/ask",status="200"} 1`)
	assert.Contains(t, string(body), `test_generations_total{model="llama3.2:1b",status="success"} 1`)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		c.RecordRetrieval("mmr", nil, time.Millisecond, 1)
		c.RecordGeneration("m", nil, time.Millisecond)
		c.RecordBuild("warm", nil, time.Millisecond, 1)
		c.SetReady(true)
	})
	assert.Nil(t, c.Registry())
}
