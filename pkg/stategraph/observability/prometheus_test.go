package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	p := NewPrometheusRecorder()
	ctx := context.Background()

	p.RecordNodeExecution(ctx, "a", time.Millisecond, nil)
	p.RecordNodeExecution(ctx, "a", time.Millisecond, errors.New("x"))
	p.RecordGraphRun(ctx, true, time.Second, 2)
	p.RecordTruncation(ctx, "loop")
	p.RecordInterrupt(ctx, "a", "after")
	p.RecordCheckpoint(ctx, "a", errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.nodeVisits.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.nodeErrors.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.runs.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.truncations))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.interrupts.WithLabelValues("a", "after")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.checkpoints.WithLabelValues("false")))
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	p := NewPrometheusRecorder()
	p.RecordNodeExecution(context.Background(), "worker", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `stategraph_node_executions_total{node_id="worker"} 1`)
}
