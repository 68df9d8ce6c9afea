package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TickDone(20 * time.Millisecond)
	m.Signal("BUY")
	m.Signal("BUY")
	m.Order("BUY", "filled")
	m.Exit("take_profit")
	m.Session(2, 1500, 0.0015, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Signals.WithLabelValues("BUY")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.DailyPnL))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TickDone(time.Second)
		m.TickError("market_data")
		m.Notification("sent")
		m.ObserveCall("fetch_price", time.Now())
	})
}

func TestLatencyWindow(t *testing.T) {
	w := NewLatencyWindow(4)
	assert.Zero(t, w.Stats().Count)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		w.Record(v)
	}
	s := w.Stats()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 20.0, s.Min, "oldest sample evicted")
	assert.Equal(t, 50.0, s.Max)
	assert.Equal(t, 35.0, s.Avg)
	assert.Equal(t, s, w.Stats())
}
