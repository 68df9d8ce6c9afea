package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper-core/internal/events"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/position"
	"scalper-core/internal/state"
	"scalper-core/pkg/db"
)

type staticStatus struct{ snap state.Snapshot }

func (s staticStatus) Status() state.Snapshot { return s.snap }

func newTestServer(t *testing.T, opts Options) (*Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { database.Close() })

	if opts.Engine == nil {
		opts.Engine = staticStatus{snap: state.Snapshot{
			Mode:    "paper",
			Symbol:  "BTC_KRW",
			Session: state.Session{StartingBalance: 1_000_000, CurrentBalance: 1_000_000},
			Positions: []position.Position{
				{ID: "p1", RawEntryPrice: 100, EntryPrice: 100.04, Quantity: 5, PartiallyExited: true, Source: position.SourceStrategy},
			},
			Ticks: 7,
		}}
	}
	opts.Journal = database
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	opts.Log = zerolog.Nop()
	return NewServer(opts), database
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusAndPositions(t *testing.T) {
	s, _ := newTestServer(t, Options{Meta: SystemMeta{Mode: "paper", Venue: "paper"}})

	rec := get(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		System  SystemMeta    `json:"system"`
		Session state.Session `json:"session"`
		Ticks   int           `json:"ticks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "paper", status.System.Mode)
	assert.Equal(t, 1_000_000.0, status.Session.StartingBalance)
	assert.Equal(t, 7, status.Ticks)

	rec = get(t, s, "/api/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "p1", positions[0]["id"])
	assert.Equal(t, string(position.StatusPartiallyExited), positions[0]["status"])
}

type fixedDelivery notify.Stats

func (f fixedDelivery) Stats() notify.Stats { return notify.Stats(f) }

func TestStatusReportsLatencyAndDelivery(t *testing.T) {
	lat := monitor.NewLatencyWindow(10)
	lat.RecordDuration(10 * time.Millisecond)
	lat.RecordDuration(30 * time.Millisecond)
	s, _ := newTestServer(t, Options{
		TickLatency: lat,
		Delivery:    fixedDelivery{Sent: 4, Dropped: 1, Queued: 2, Breaker: "closed"},
	})

	rec := get(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		TickLatency   monitor.LatencyStats `json:"tick_latency"`
		Notifications notify.Stats         `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.TickLatency.Count)
	assert.InDelta(t, 10, status.TickLatency.Min, 1e-9)
	assert.InDelta(t, 30, status.TickLatency.Max, 1e-9)
	assert.Equal(t, uint64(4), status.Notifications.Sent)
	assert.Equal(t, uint64(1), status.Notifications.Dropped)
	assert.Equal(t, 2, status.Notifications.Queued)
	assert.Equal(t, "closed", status.Notifications.Breaker)
}

func TestStatusWithoutDeliveryOmitsNotifications(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := get(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "notifications")
	assert.JSONEq(t, `{"count":0,"min_ms":0,"max_ms":0,"avg_ms":0,"p50_ms":0,"p95_ms":0,"p99_ms":0}`, string(body["tick_latency"]))
}

func TestJournalEndpoints(t *testing.T) {
	s, database := newTestServer(t, Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, database.InsertOrder(ctx, db.Order{ID: "o1", Symbol: "BTC_KRW", Side: "BUY", Price: 100, Qty: 1, Status: "FILLED", Mode: "paper", CreatedAt: now}))
	require.NoError(t, database.InsertOrder(ctx, db.Order{ID: "o2", Symbol: "BTC_KRW", Side: "SELL", Price: 101, Qty: 1, Status: "FILLED", Mode: "paper", CreatedAt: now.Add(time.Second)}))
	_, err := database.InsertClosedTrade(ctx, db.ClosedTrade{PositionID: "p1", OrderID: "o2", Symbol: "BTC_KRW", SellPrice: 101, SellQty: 1, EntryPrice: 100, PnL: 0.92, Reason: "Take-profit", ClosedAt: now})
	require.NoError(t, err)

	rec := get(t, s, "/api/orders?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Result-Limit"))
	var orders []db.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "o2", orders[0].ID)

	rec = get(t, s, "/api/trades")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []db.ClosedTrade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "p1", trades[0].PositionID)

	rec = get(t, s, "/api/trades/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats db.TradeStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Trades)
	assert.Equal(t, 1, stats.Wins)

	rec = get(t, s, "/api/trades/stats?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, "/api/orders?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "scalper_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s, _ := newTestServer(t, Options{Gatherer: reg})
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scalper_test_total 1")
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Options{RatePerSec: 1, Burst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, get(t, s, "/health").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, Options{CORSOrigins: []string{"http://dash.local"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	s.Router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	bus := events.NewBus()
	s, _ := newTestServer(t, Options{Bus: bus})
	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first state.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 7, first.Ticks)

	// The subscription is registered before the first write, so publishing now is seen.
	require.Eventually(t, func() bool { return bus.Subscribers(events.EventSnapshot) == 1 }, time.Second, 10*time.Millisecond)
	bus.Publish(events.EventSnapshot, state.Snapshot{Ticks: 8})

	var next state.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 8, next.Ticks)
}
