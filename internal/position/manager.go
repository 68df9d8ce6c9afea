package position

import (
	"fmt"
	"math"
)

// ExitConfig holds the exit thresholds. Percentages are fractions (0.015 = 1.5%);
// StopLossPct and TrailingStopPct are magnitudes.
type ExitConfig struct {
	FeeRate             float64
	TakeProfitPct       float64
	StopLossPct         float64
	TrailingStopPct     float64
	PartialExitFraction float64
}

// DefaultExitConfig returns the exit tuning the engine ships with.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		FeeRate:             0.0004,
		TakeProfitPct:       0.015,
		StopLossPct:         0.01,
		TrailingStopPct:     0.008,
		PartialExitFraction: 0.5,
	}
}

// Manager owns the position store and applies the per-position exit state machine.
type Manager struct {
	cfg    ExitConfig
	store  *Store
	closed []ClosedTrade
}

// NewManager creates a manager over an empty store.
func NewManager(cfg ExitConfig) *Manager {
	return &Manager{cfg: cfg, store: NewStore()}
}

// Config returns the exit thresholds.
func (m *Manager) Config() ExitConfig { return m.cfg }

// Admit adds a new position. The peak starts at the raw entry price when unset.
func (m *Manager) Admit(p Position) {
	if p.PeakPrice <= 0 {
		p.PeakPrice = p.BasisPrice()
	}
	m.store.add(p)
}

// Evaluate raises each position's peak to price and returns the exit that fires for it, if any.
// Rules are checked in order (take-profit, trailing stop, stop-loss, early trailing stop) and
// the first match wins for that position.
func (m *Manager) Evaluate(price float64) []ExitDecision {
	if price <= 0 {
		return nil
	}
	var out []ExitDecision
	for _, p := range m.store.items {
		if p.Quantity <= QtyEpsilon {
			continue
		}
		if d, ok := m.evaluate(p, price); ok {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) evaluate(p *Position, price float64) (ExitDecision, bool) {
	basis := p.BasisPrice()
	if basis <= 0 {
		return ExitDecision{}, false
	}
	feeAdjusted := (price-basis)/basis - 2*m.cfg.FeeRate

	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	drop := (price - p.PeakPrice) / p.PeakPrice

	d := ExitDecision{PositionID: p.ID, FeeAdjusted: feeAdjusted, DropFromPeak: drop, Fraction: 1}
	switch {
	case !p.PartiallyExited && feeAdjusted >= m.cfg.TakeProfitPct:
		d.Rule = RuleTakeProfit
		d.Fraction = m.cfg.PartialExitFraction
		d.Reason = fmt.Sprintf("Take-profit (%s)", pct(feeAdjusted))
	case p.PartiallyExited && drop <= -m.cfg.TrailingStopPct:
		d.Rule = RuleTrailingStop
		d.Reason = fmt.Sprintf("Trailing stop (%s from peak)", pct(drop))
	case feeAdjusted <= -m.cfg.StopLossPct:
		d.Rule = RuleStopLoss
		d.Reason = fmt.Sprintf("Stop-loss (%s)", pct(feeAdjusted))
	case !p.PartiallyExited && feeAdjusted > m.cfg.TakeProfitPct*0.5 && drop <= -m.cfg.TrailingStopPct:
		d.Rule = RuleEarlyTrailing
		d.Reason = fmt.Sprintf("Early trailing stop (%s from peak)", pct(drop))
	default:
		return ExitDecision{}, false
	}
	return d, true
}

// ApplyExit records a fill against its position. A fraction below 1 marks the position
// partially exited; a position left at or below QtyEpsilon is removed. It reports the
// remaining quantity and whether the position was removed.
func (m *Manager) ApplyExit(trade ClosedTrade, fraction float64) (remaining float64, removed bool) {
	m.closed = append(m.closed, trade)

	p := m.store.get(trade.PositionID)
	if p == nil {
		return 0, false
	}
	p.Quantity = FloorQty(p.Quantity - trade.SellQuantity)
	if fraction < 1 {
		p.PartiallyExited = true
	}
	if p.Quantity <= QtyEpsilon {
		m.store.remove(p.ID)
		return 0, true
	}
	return p.Quantity, false
}

// ScaleInCandidates lists strategy-owned positions that have not been scaled into and whose
// gain over the raw entry price reached threshold.
func (m *Manager) ScaleInCandidates(price, threshold float64) []Position {
	var out []Position
	for _, p := range m.store.items {
		if p.Source != SourceStrategy || p.ScaledIn || p.Quantity <= QtyEpsilon {
			continue
		}
		basis := p.BasisPrice()
		if basis <= 0 {
			continue
		}
		if (price-basis)/basis >= threshold {
			out = append(out, *p)
		}
	}
	return out
}

// MarkScaledIn flags a position so it is never scaled into again.
func (m *Manager) MarkScaledIn(id string) bool {
	p := m.store.get(id)
	if p == nil || p.Source != SourceStrategy {
		return false
	}
	p.ScaledIn = true
	return true
}

// Get returns a copy of one position.
func (m *Manager) Get(id string) (Position, bool) { return m.store.Get(id) }

// Open copies the positions still holding quantity.
func (m *Manager) Open() []Position {
	var out []Position
	for _, p := range m.store.items {
		if p.Quantity > QtyEpsilon {
			out = append(out, *p)
		}
	}
	return out
}

// HasOpen reports whether any position from source still holds quantity.
func (m *Manager) HasOpen(source Source) bool {
	for _, p := range m.store.items {
		if p.Source == source && p.Quantity > QtyEpsilon {
			return true
		}
	}
	return false
}

// Len reports how many positions are held.
func (m *Manager) Len() int { return m.store.Len() }

// Closed copies the closed-trade ledger.
func (m *Manager) Closed() []ClosedTrade {
	return append([]ClosedTrade(nil), m.closed...)
}

// UnrealizedPnL values the open positions at price net of a round-trip fee.
func (m *Manager) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, p := range m.store.items {
		if p.Quantity <= QtyEpsilon {
			continue
		}
		total += p.Quantity*(price-p.BasisPrice()) - p.Quantity*price*m.cfg.FeeRate*2
	}
	return total
}

// Exposure is the market value of the open positions at price.
func (m *Manager) Exposure(price float64) float64 {
	total := 0.0
	for _, p := range m.store.items {
		total += p.Quantity * price
	}
	return total
}

// FloorQty rounds q down to the 1e-8 quantity step.
func FloorQty(q float64) float64 {
	if q <= 0 {
		return 0
	}
	// The small bias absorbs binary representation error such as 0.3 * 1e8 = 29999999.999999996.
	return math.Floor(q*1e8+1e-6) / 1e8
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
