// Package api serves a read-only view of the engine: status, positions, the order and trade
// journal, prometheus metrics and a websocket stream of snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scalper-core/internal/engine"
	"scalper-core/internal/events"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
)

// DeliveryStats reports notification delivery counters.
type DeliveryStats interface {
	Stats() notify.Stats
}

// Server wires HTTP endpoints around the engine status and the event bus.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	Engine  engine.StatusReader
	Journal engine.ReadOnlyJournal
	Meta    SystemMeta

	latency  *monitor.LatencyWindow
	delivery DeliveryStats
	gatherer prometheus.Gatherer
	limiters *ipLimiters
	log      zerolog.Logger
	closing  chan struct{}
}

// SystemMeta describes the running process.
type SystemMeta struct {
	Mode      string    `json:"mode"`
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	MockFeed  bool      `json:"mock_feed"`
	StartedAt time.Time `json:"started_at"`
}

// Options configure NewServer.
type Options struct {
	Bus      *events.Bus
	Engine   engine.StatusReader
	Journal  engine.ReadOnlyJournal
	Gatherer prometheus.Gatherer
	Meta     SystemMeta
	// TickLatency and Delivery are reported by /api/status when set.
	TickLatency *monitor.LatencyWindow
	Delivery    DeliveryStats
	// RatePerSec and Burst bound requests per client IP.
	RatePerSec  float64
	Burst       int
	CORSOrigins []string
	Log         zerolog.Logger
}

func NewServer(opts Options) *Server {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Log.With().Str("component", "api").Logger()

	r := gin.New()
	s := &Server{
		Router:   r,
		Bus:      opts.Bus,
		Engine:   opts.Engine,
		Journal:  opts.Journal,
		Meta:     opts.Meta,
		latency:  opts.TickLatency,
		delivery: opts.Delivery,
		gatherer: opts.Gatherer,
		limiters: newIPLimiters(opts.RatePerSec, opts.Burst),
		log:      log,
		closing:  make(chan struct{}),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiters, log))
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(CORSMiddleware(opts.CORSOrigins))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/trades/stats", s.getTradeStats)
		api.GET("/orders", s.getOrders)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.limiters.sweep(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		close(s.closing)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
