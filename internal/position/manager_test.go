package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entered(id string, raw, qty float64, src Source) Position {
	return Position{
		ID:            id,
		Symbol:        "BTC_KRW",
		EntryPrice:    raw * 1.0004,
		RawEntryPrice: raw,
		Quantity:      qty,
		EntryTime:     time.Unix(1700000000, 0),
		Source:        src,
	}
}

func fill(m *Manager, d ExitDecision, price float64) (float64, bool) {
	p, _ := m.Get(d.PositionID)
	qty := FloorQty(p.Quantity * d.Fraction)
	return m.ApplyExit(ClosedTrade{PositionID: d.PositionID, SellPrice: price, SellQuantity: qty, Reason: d.Reason}, d.Fraction)
}

func TestTakeProfitThenTrailingStop(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	m.Admit(entered("p1", 100, 0.02, SourceStrategy))

	decisions := m.Evaluate(101.6)
	require.Len(t, decisions, 1)
	assert.Equal(t, RuleTakeProfit, decisions[0].Rule)
	assert.Equal(t, 0.5, decisions[0].Fraction)

	remaining, removed := fill(m, decisions[0], 101.6)
	assert.False(t, removed)
	assert.InDelta(t, 0.01, remaining, 1e-12)

	p, ok := m.Get("p1")
	require.True(t, ok)
	assert.True(t, p.PartiallyExited)
	assert.Equal(t, StatusPartiallyExited, p.Status())

	// A higher price never re-fires take-profit.
	assert.Empty(t, m.Evaluate(102.5))
	p, _ = m.Get("p1")
	assert.Equal(t, 102.5, p.PeakPrice)

	decisions = m.Evaluate(101.6)
	require.Len(t, decisions, 1)
	assert.Equal(t, RuleTrailingStop, decisions[0].Rule)
	assert.Equal(t, 1.0, decisions[0].Fraction)

	remaining, removed = fill(m, decisions[0], 101.6)
	assert.True(t, removed)
	assert.Zero(t, remaining)
	assert.Equal(t, 0, m.Len())
	assert.Len(t, m.Closed(), 2)
}

func TestStopLossFromOpen(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	m.Admit(entered("p1", 100, 0.01, SourceStrategy))

	// -0.95% raw is -1.03% after fees.
	decisions := m.Evaluate(99.05)
	require.Len(t, decisions, 1)
	assert.Equal(t, RuleStopLoss, decisions[0].Rule)
	assert.Equal(t, 1.0, decisions[0].Fraction)
	assert.Contains(t, decisions[0].Reason, "Stop-loss")
}

func TestEarlyTrailingStop(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.TrailingStopPct = 0.003
	m := NewManager(cfg)
	m.Admit(entered("p1", 100, 0.01, SourceStrategy))

	assert.Empty(t, m.Evaluate(101.5), "1.42% net is below take-profit")
	decisions := m.Evaluate(101.1)
	require.Len(t, decisions, 1)
	assert.Equal(t, RuleEarlyTrailing, decisions[0].Rule)
}

func TestPrecedenceTakeProfitBeforeStopLoss(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.StopLossPct = -1 // any return counts as a stop-loss
	m := NewManager(cfg)
	m.Admit(entered("p1", 100, 0.01, SourceStrategy))

	decisions := m.Evaluate(102)
	require.Len(t, decisions, 1)
	assert.Equal(t, RuleTakeProfit, decisions[0].Rule)
}

func TestEvaluateIsPerPosition(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	m.Admit(entered("winner", 98, 0.01, SourceStrategy))
	m.Admit(entered("loser", 102, 0.01, SourceStrategy))
	m.Admit(entered("flat", 100, 0.01, SourceStrategy))

	decisions := m.Evaluate(100)
	require.Len(t, decisions, 2)
	assert.Equal(t, "winner", decisions[0].PositionID)
	assert.Equal(t, RuleTakeProfit, decisions[0].Rule)
	assert.Equal(t, "loser", decisions[1].PositionID)
	assert.Equal(t, RuleStopLoss, decisions[1].Rule)
}

func TestPeakIsMonotonic(t *testing.T) {
	m := NewManager(ExitConfig{FeeRate: 0.0004, TakeProfitPct: 1, StopLossPct: 1, TrailingStopPct: 1, PartialExitFraction: 0.5})
	m.Admit(entered("p1", 100, 0.01, SourceStrategy))

	prev := 0.0
	for _, price := range []float64{100, 101, 99, 103, 102, 97, 104, 100} {
		m.Evaluate(price)
		p, _ := m.Get("p1")
		assert.GreaterOrEqual(t, p.PeakPrice, prev)
		prev = p.PeakPrice
	}
	assert.Equal(t, 104.0, prev)
}

func TestQuantityIsMonotonicAndRemovedAtZero(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	m.Admit(entered("p1", 100, 0.00000003, SourceStrategy))

	remaining, removed := m.ApplyExit(ClosedTrade{PositionID: "p1", SellQuantity: 0.00000001}, 0.5)
	assert.False(t, removed)
	assert.InDelta(t, 0.00000002, remaining, 1e-15)

	remaining, removed = m.ApplyExit(ClosedTrade{PositionID: "p1", SellQuantity: 0.00000001}, 0.5)
	assert.True(t, removed, "a single step left counts as empty")
	assert.Zero(t, remaining)
	_, ok := m.Get("p1")
	assert.False(t, ok)
}

func TestScaleInCandidates(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	m.Admit(entered("strat", 100, 0.01, SourceStrategy))
	m.Admit(entered("held", 100, 0.01, SourcePreexisting))
	m.Admit(entered("late", 101, 0.01, SourceStrategy))

	got := m.ScaleInCandidates(100.6, 0.005)
	require.Len(t, got, 1)
	assert.Equal(t, "strat", got[0].ID)

	require.True(t, m.MarkScaledIn("strat"))
	assert.Empty(t, m.ScaleInCandidates(100.6, 0.005))
	assert.False(t, m.MarkScaledIn("held"), "preexisting holdings are never scaled into")
}

func TestHasOpenAndUnrealized(t *testing.T) {
	m := NewManager(DefaultExitConfig())
	assert.False(t, m.HasOpen(SourceStrategy))

	m.Admit(entered("held", 100, 1, SourcePreexisting))
	assert.False(t, m.HasOpen(SourceStrategy))
	assert.True(t, m.HasOpen(SourcePreexisting))

	assert.InDelta(t, 1*(110-100)-110*0.0004*2, m.UnrealizedPnL(110), 1e-9)
}

func TestFloorQty(t *testing.T) {
	assert.Equal(t, 0.3, FloorQty(0.3))
	assert.Equal(t, 0.12345678, FloorQty(0.123456789))
	assert.Zero(t, FloorQty(-1))
}
