package position

import "time"

// QtyEpsilon is the smallest tradable quantity; anything at or below it counts as empty.
const QtyEpsilon = 1e-8

// Source records how a position came to be owned by the engine.
type Source string

const (
	SourceStrategy    Source = "strategy"
	SourcePreexisting Source = "preexisting"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyExited Status = "PARTIALLY_EXITED"
	StatusClosed          Status = "CLOSED"
)

// Position is one long holding managed by the engine.
type Position struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id,omitempty"`
	Symbol          string    `json:"symbol"`
	EntryPrice      float64   `json:"entry_price"` // fee-adjusted
	RawEntryPrice   float64   `json:"raw_entry_price"`
	Quantity        float64   `json:"quantity"`
	EntryTime       time.Time `json:"entry_ts"`
	PeakPrice       float64   `json:"peak_price"`
	PartiallyExited bool      `json:"partially_exited"`
	ScaledIn        bool      `json:"scaled_in"`
	Source          Source    `json:"source"`
	Signal          string    `json:"signal,omitempty"`
}

// Status derives the lifecycle state from the quantity and flags.
func (p Position) Status() Status {
	switch {
	case p.Quantity <= QtyEpsilon:
		return StatusClosed
	case p.PartiallyExited:
		return StatusPartiallyExited
	default:
		return StatusOpen
	}
}

// BasisPrice is the price exit rules measure returns against.
func (p Position) BasisPrice() float64 {
	if p.RawEntryPrice > 0 {
		return p.RawEntryPrice
	}
	return p.EntryPrice
}

// ClosedTrade is the immutable record of one exit fill.
type ClosedTrade struct {
	PositionID     string    `json:"position_id"`
	OrderID        string    `json:"order_id,omitempty"`
	SellPrice      float64   `json:"sell_price"`
	SellQuantity   float64   `json:"sell_qty"`
	EntryPrice     float64   `json:"entry_price"`
	Fee            float64   `json:"fee"`
	RealizedPnL    float64   `json:"pnl"`
	RealizedPnLPct float64   `json:"pnl_pct"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"ts"`
}

// ExitRule names the rule that fired for a position.
type ExitRule string

const (
	RuleTakeProfit    ExitRule = "take_profit"
	RuleTrailingStop  ExitRule = "trailing_stop"
	RuleStopLoss      ExitRule = "stop_loss"
	RuleEarlyTrailing ExitRule = "early_trailing_stop"
)

// ExitDecision asks the execution layer to sell Fraction of a position.
type ExitDecision struct {
	PositionID   string
	Rule         ExitRule
	Fraction     float64
	Reason       string
	FeeAdjusted  float64
	DropFromPeak float64
}
