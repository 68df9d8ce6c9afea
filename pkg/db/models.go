package db

import "time"

// Order is one submission attempt, successful or not.
type Order struct {
	ID              string    `json:"id"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	PositionID      string    `json:"position_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Price           float64   `json:"price"`
	Qty             float64   `json:"qty"`
	Notional        float64   `json:"notional"`
	Fee             float64   `json:"fee"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Error           string    `json:"error,omitempty"`
	Mode            string    `json:"mode"`
	Strategy        string    `json:"strategy,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ClosedTrade is one realized exit.
type ClosedTrade struct {
	ID         int64     `json:"id"`
	PositionID string    `json:"position_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Symbol     string    `json:"symbol"`
	SellPrice  float64   `json:"sell_price"`
	SellQty    float64   `json:"sell_qty"`
	EntryPrice float64   `json:"entry_price"`
	Fee        float64   `json:"fee"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Reason     string    `json:"reason"`
	ClosedAt   time.Time `json:"closed_at"`
}

// TradeStats aggregates closed trades.
type TradeStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	BestPnL  float64 `json:"best_pnl"`
	WorstPnL float64 `json:"worst_pnl"`
}
