// Package engine runs the trading loop: one tick per poll interval, each tick feeding the
// indicator window, evaluating exits, scoring a signal and gating entries and scale-ins.
package engine

import (
	"context"
	"time"

	"scalper-core/internal/state"
	"scalper-core/pkg/db"
)

// StatusReader is the read side the API layer uses. It never mutates engine state.
type StatusReader interface {
	Status() state.Snapshot
}

// ReadOnlyJournal is the journal query surface exposed to the API layer.
type ReadOnlyJournal interface {
	ListOrders(ctx context.Context, limit int) ([]db.Order, error)
	ListClosedTrades(ctx context.Context, limit int) ([]db.ClosedTrade, error)
	TradeStats(ctx context.Context, since time.Time) (db.TradeStats, error)
}

// Flusher drains pending notifications before shutdown.
type Flusher interface {
	Flush(ctx context.Context) error
}

var (
	_ StatusReader    = (*Engine)(nil)
	_ ReadOnlyJournal = (*db.Database)(nil)
)
