package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Helpers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncSessionsActive()
	m.IncSessionsActive()
	m.DecSessionsActive()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	m.IncTransition("READY")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("READY")))

	m.ObserveNotification("kafka", "sent", 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("kafka", "sent")))

	m.SetCircuitOpen("notify", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("notify")))
	m.SetCircuitOpen("notify", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("notify")))
}

func TestNew_SeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
