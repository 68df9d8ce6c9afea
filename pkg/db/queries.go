package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertOrder journals an order attempt.
func (d *Database) InsertOrder(ctx context.Context, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, position_id, symbol, side, price, qty, notional, fee,
		                    status, reason, error, mode, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ExchangeOrderID, o.PositionID, o.Symbol, o.Side, o.Price, o.Qty, o.Notional, o.Fee,
		o.Status, o.Reason, o.Error, o.Mode, o.Strategy, o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// InsertClosedTrade journals a realized exit and returns its row id.
func (d *Database) InsertClosedTrade(ctx context.Context, t ClosedTrade) (int64, error) {
	if t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO closed_trades (position_id, order_id, symbol, sell_price, sell_qty, entry_price, fee,
		                           pnl, pnl_pct, reason, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.PositionID, t.OrderID, t.Symbol, t.SellPrice, t.SellQty, t.EntryPrice, t.Fee,
		t.PnL, t.PnLPct, t.Reason, t.ClosedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert closed trade: %w", err)
	}
	return res.LastInsertId()
}

// ListOrders returns the most recent orders first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), COALESCE(position_id, ''), symbol, side, price, qty,
		       notional, COALESCE(fee, 0), status, COALESCE(reason, ''), COALESCE(error, ''), mode,
		       COALESCE(strategy, ''), created_at
		FROM orders
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.PositionID, &o.Symbol, &o.Side, &o.Price, &o.Qty,
			&o.Notional, &o.Fee, &o.Status, &o.Reason, &o.Error, &o.Mode, &o.Strategy, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListClosedTrades returns the most recent exits first.
func (d *Database) ListClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, position_id, COALESCE(order_id, ''), symbol, sell_price, sell_qty, entry_price,
		       COALESCE(fee, 0), pnl, pnl_pct, reason, closed_at
		FROM closed_trades
		ORDER BY closed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		if err := rows.Scan(&t.ID, &t.PositionID, &t.OrderID, &t.Symbol, &t.SellPrice, &t.SellQty, &t.EntryPrice,
			&t.Fee, &t.PnL, &t.PnLPct, &t.Reason, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeStats aggregates closed trades since the given time (zero = all).
func (d *Database) TradeStats(ctx context.Context, since time.Time) (TradeStats, error) {
	var (
		s            TradeStats
		total        sql.NullFloat64
		best, worst  sql.NullFloat64
		wins, losses sql.NullInt64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END),
		       SUM(pnl), MAX(pnl), MIN(pnl)
		FROM closed_trades
		WHERE closed_at >= ?
	`, since.UTC()).Scan(&s.Trades, &wins, &losses, &total, &best, &worst)
	if err != nil {
		return TradeStats{}, fmt.Errorf("trade stats: %w", err)
	}
	s.Wins = int(wins.Int64)
	s.Losses = int(losses.Int64)
	s.TotalPnL = total.Float64
	s.BestPnL = best.Float64
	s.WorstPnL = worst.Float64
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s, nil
}
