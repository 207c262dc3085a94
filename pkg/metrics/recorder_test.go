package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAreIndependent(t *testing.T) {
	a := NewPrometheusRecorder()
	b := NewPrometheusRecorder()

	a.IncClassificationFailure("timeout")
	a.IncClassificationFailure("timeout")
	b.IncClassificationFailure("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.classificationFailures.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.classificationFailures.WithLabelValues("timeout")))
}

func TestHandlerExposesEngineSeries(t *testing.T) {
	r := NewPrometheusRecorder()
	r.ObserveRoute("workflow")
	r.ObserveSandbox("success", "", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chat_dispatch_routes_total{route="workflow"} 1`)
	assert.Contains(t, string(body), "chat_sandbox_duration_seconds")
}
