package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGeneration(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveGeneration("completed", "", time.Second)
	c.ObserveGeneration("failed", "generation", time.Second)
	c.ObserveGeneration("failed", "generation", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generations.WithLabelValues("completed", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.generations.WithLabelValues("failed", "generation")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.generationDuration))
}

func TestObservePhaseAndHTTP(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObservePhase("generate", 3*time.Second)
	c.ObservePhase("upload", 100*time.Millisecond)
	c.ObserveHTTP("POST", "/api/v1/generate", 200, time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(c.phaseDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/api/v1/generate", "200")))
}

func TestCollectorsAreIsolatedPerRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
