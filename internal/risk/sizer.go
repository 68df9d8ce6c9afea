package risk

import (
	"math"

	"scalper-core/internal/position"
)

// SizerConfig bounds every order by value.
type SizerConfig struct {
	MaxPositionPct  float64 // share of portfolio value per order
	MinOrderValue   float64 // venue floor, in quote currency
	MaxOrderValue   float64 // hard ceiling, in quote currency
	RiskPerTradePct float64 // 0 disables stop-distance sizing
}

// DefaultSizerConfig mirrors the KRW market defaults.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		MaxPositionPct: 0.5,
		MinOrderValue:  5000,
		MaxOrderValue:  1_000_000,
	}
}

// Sizing is an order quantity and its quote value at the sizing price.
type Sizing struct {
	Quantity float64 `json:"quantity"`
	Notional float64 `json:"notional"`
}

// Sizer turns balances into bounded order quantities.
type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size returns min(available, portfolio*MaxPositionPct, MaxOrderValue) converted to a
// quantity floored to the minimum increment. ok is false when the result falls under
// MinOrderValue.
func (s *Sizer) Size(price, available, portfolio float64) (Sizing, bool) {
	if price <= 0 || available <= 0 {
		return Sizing{}, false
	}
	notional := math.Min(available, portfolio*s.cfg.MaxPositionPct)
	if s.cfg.MaxOrderValue > 0 {
		notional = math.Min(notional, s.cfg.MaxOrderValue)
	}
	return s.fromNotional(price, notional)
}

// ScaleIn halves a base sizing. The half must still clear the order floor.
func (s *Sizer) ScaleIn(price float64, base Sizing) (Sizing, bool) {
	return s.fromNotional(price, base.Notional/2)
}

// CapByRisk shrinks a sizing so that hitting stop loses at most RiskPerTradePct of the
// portfolio, and so that total exposure stays within MaxPositionPct of the portfolio.
// Sizings without a usable stop are only exposure-capped.
func (s *Sizer) CapByRisk(price, stop, portfolio, exposure float64, in Sizing) (Sizing, bool) {
	qty := in.Quantity
	if s.cfg.RiskPerTradePct > 0 && stop > 0 && stop < price {
		budget := portfolio * s.cfg.RiskPerTradePct
		qty = math.Min(qty, budget/(price-stop))
	}
	if room := portfolio*s.cfg.MaxPositionPct - exposure; room < qty*price {
		qty = math.Max(room, 0) / price
	}
	return s.fromNotional(price, qty*price)
}

func (s *Sizer) fromNotional(price, notional float64) (Sizing, bool) {
	if price <= 0 || notional < s.cfg.MinOrderValue {
		return Sizing{}, false
	}
	qty := position.FloorQty(notional / price)
	// FloorQty's rounding bias can land one step above notional; the value must never exceed it.
	for qty > 0 && qty*price > notional {
		qty = math.Round(qty*1e8-1) / 1e8
	}
	if qty <= 0 {
		return Sizing{}, false
	}
	value := qty * price
	if value < s.cfg.MinOrderValue {
		return Sizing{}, false
	}
	return Sizing{Quantity: qty, Notional: value}, true
}
