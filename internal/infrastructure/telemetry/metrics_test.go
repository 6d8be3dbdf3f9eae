package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventPublished("ORDER_CREATED", nil)
		m.Delivery("billing", time.Millisecond, nil)
		m.QueueOutcome("order-events", OutcomeAcked)
		m.Transition("STARTED", "URL_ISSUED")
		m.Push("STATUS", errors.New("gone"))
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counts(t *testing.T) {
	m := NewMetrics()

	m.Delivery("billing", 10*time.Millisecond, nil)
	m.Delivery("billing", 10*time.Millisecond, errors.New("boom"))
	m.QueueOutcome("order-events", OutcomeDeadLettered)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("billing", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("billing", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queue.WithLabelValues("order-events", OutcomeDeadLettered)))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Transition("URL_ISSUED", "PROCESSING")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "commerce_import_transitions_total"))
}
