package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"scalper-core/internal/position"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type statsQuery struct {
	// Since is RFC3339; empty means the whole journal.
	Since string `form:"since"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getStatus returns the session, open positions, last indicators, tick latency and
// notification delivery counters.
func (s *Server) getStatus(c *gin.Context) {
	if s.Engine == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine not ready")
		return
	}
	snap := s.Engine.Status()
	body := gin.H{
		"system":       s.Meta,
		"session":      snap.Session,
		"positions":    snap.Positions,
		"indicators":   snap.Indicators,
		"last_signal":  snap.LastSignal,
		"ticks":        snap.Ticks,
		"updated_at":   snap.UpdatedAt,
		"tick_latency": s.latency.Stats(),
	}
	if s.delivery != nil {
		body["notifications"] = s.delivery.Stats()
	}
	c.JSON(http.StatusOK, body)
}

type positionView struct {
	position.Position
	Status position.Status `json:"status"`
}

// getPositions lists open positions with their lifecycle state.
func (s *Server) getPositions(c *gin.Context) {
	if s.Engine == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine not ready")
		return
	}
	snap := s.Engine.Status()
	out := make([]positionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, positionView{Position: p, Status: p.Status()})
	}
	c.JSON(http.StatusOK, out)
}

// getTrades lists realized exits from the journal, newest first.
func (s *Server) getTrades(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "journal not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	trades, err := s.Journal.ListClosedTrades(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, trades)
}

// getTradeStats aggregates the journal since an optional timestamp.
func (s *Server) getTradeStats(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "journal not configured")
		return
	}
	var q statsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	var since time.Time
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "since must be RFC3339")
			return
		}
		since = t
	}
	stats, err := s.Journal.TradeStats(c.Request.Context(), since)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getOrders lists order attempts from the journal, newest first.
func (s *Server) getOrders(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "journal not configured")
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.Journal.ListOrders(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}
