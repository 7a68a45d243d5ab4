package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.ObserveSimulation(10*time.Millisecond, 500, 2, nil)
	rec.ObserveSimulation(time.Millisecond, 0, 0, errors.New("boom"))
	rec.ObserveOptimization(time.Millisecond, 40, nil)
	rec.ObserveRequest("/api/v1/simulate", "200")

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.simulations.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.simulations.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 500.0, testutil.ToFloat64(rec.trajectories))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.collapsedPaths))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.optimizations.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.httpRequests.WithLabelValues("/api/v1/simulate", "200")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.ObserveSimulation(time.Second, 1, 0, nil)
	rec.ObserveOptimization(time.Second, 1, nil)
	rec.ObserveRequest("x", "500")
}
