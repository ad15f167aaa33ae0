package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.EventPublished("presence.updated", 3)
	m.EventDropped("queue_full")
	m.Command("move", "ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("presence.updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("move", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.EventPublished("x", 1)
		m.OutboxFailure("redis")
	})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Command("ping", "ok")
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "office_commands_total")
}
