package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper-core/internal/indicators"
)

func neutral() indicators.Snapshot {
	return indicators.Snapshot{RSI: 50, VolumeSpike: 1, TrendUp: true, CurrentPrice: 100}
}

func TestScoreDecliningWindowBuysOversold(t *testing.T) {
	prices := []float64{100, 101}
	for p := 99.0; p >= 80; p-- {
		prices = append(prices, p)
	}
	snap, err := indicators.NewCalculator(indicators.DefaultConfig()).Compute(prices, nil)
	require.NoError(t, err)
	require.Less(t, snap.EMAFast, snap.EMASlow)
	require.Less(t, snap.RSI, 30.0)

	sig := Score(snap, DefaultScorerConfig())
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Contains(t, sig.Reason, "RSI oversold")
	assert.GreaterOrEqual(t, sig.Strength, 3)
}

func TestScoreTable(t *testing.T) {
	cfg := DefaultScorerConfig()
	tests := []struct {
		name     string
		mutate   func(s *indicators.Snapshot)
		action   Action
		strength int
		reason   string
	}{
		{
			name:   "nothing fires",
			mutate: func(s *indicators.Snapshot) {},
			action: ActionHold,
			reason: "No clear signal",
		},
		{
			name:     "crossover alone is enough",
			mutate:   func(s *indicators.Snapshot) { s.CrossUp = true },
			action:   ActionBuy,
			strength: 3,
			reason:   "EMA crossover ↑",
		},
		{
			name: "dip plus low rsi",
			mutate: func(s *indicators.Snapshot) {
				s.RSI = 35
				s.ShortMomentum = -0.004
			},
			action:   ActionBuy,
			strength: 3,
			reason:   "RSI low (35.0) | Dip detected (-0.40%)",
		},
		{
			name: "overbought penalty cancels momentum",
			mutate: func(s *indicators.Snapshot) {
				s.RSI = 75
				s.MediumMomentum = 0.01
				s.VolumeSpike = 2
			},
			action: ActionHold,
			reason: "Momentum ↑ + trend ↑ | Volume spike (2.0x) | RSI overbought (75.0)",
		},
		{
			name: "unconfirmed bounce is penalised",
			mutate: func(s *indicators.Snapshot) {
				s.TrendUp = false
				s.RSI = 25
				s.ShortMomentum = 0.001
			},
			action: ActionHold,
			reason: "RSI oversold (25.0)",
		},
		{
			name: "cross down with overbought sells",
			mutate: func(s *indicators.Snapshot) {
				s.CrossDown = true
				s.TrendUp = false
				s.RSI = 72
			},
			action:   ActionSignalSell,
			strength: 5,
			reason:   "EMA crossover ↓ | RSI overbought (72.0)",
		},
		{
			name: "overextended adds to sell",
			mutate: func(s *indicators.Snapshot) {
				s.RSI = 71
				s.ShortMomentum = 0.006
			},
			action:   ActionSignalSell,
			strength: 3,
			reason:   "RSI overbought (71.0) | Overextended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := neutral()
			tt.mutate(&s)
			sig := Score(s, cfg)
			assert.Equal(t, tt.action, sig.Action)
			assert.Equal(t, tt.strength, sig.Strength)
			assert.Equal(t, tt.reason, sig.Reason)
		})
	}
}

func TestScoreThresholdsAreConfigurable(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.BuyThreshold = 4
	s := neutral()
	s.CrossUp = true

	assert.Equal(t, ActionHold, Score(s, cfg).Action)

	cfg.Weights.CrossUp = 4
	assert.Equal(t, ActionBuy, Score(s, cfg).Action)
}

func TestScoreIsPure(t *testing.T) {
	s := neutral()
	s.CrossUp = true
	s.VolumeSpike = 3
	a := Score(s, DefaultScorerConfig())
	b := Score(s, DefaultScorerConfig())
	assert.Equal(t, a, b)
}

func TestMomentumHoldsUntilReady(t *testing.T) {
	m := NewMomentum(DefaultScorerConfig())
	sig := m.Evaluate(Input{Ready: false})
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, "Insufficient data", sig.Reason)
	assert.Equal(t, "momentum", sig.Strategy)
}
