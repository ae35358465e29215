package observability

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/indexsearch/pkg/types"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.EvaluationDone("ok")
	m.EvaluationDone("ok")
	m.EvaluationDone("failed")
	m.IndexOperation("created")
	m.WorkerFailed("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexOperations.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerFailures.WithLabelValues("timeout")))
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics()

	m.SetLastMetrics(types.Metrics{Power: 100, Throughput: 400, QphH: 200})
	m.SetSequence(7)
	m.SetGeneration(3)
	m.SetBestFitness(1.5)

	assert.Equal(t, 200.0, testutil.ToFloat64(m.lastMetric.WithLabelValues("qphh")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sequence))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.bestFitness))
	assert.Equal(t, 3, testutil.CollectAndCount(m.lastMetric))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("power", 1)
	m.EvaluationDone("ok")
	m.SetSequence(1)
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage("power", 12.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `indexsearch_benchmark_stage_duration_seconds_count{stage="power"} 1`))
}
