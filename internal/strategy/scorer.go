package strategy

import (
	"fmt"
	"strings"

	"scalper-core/internal/indicators"
)

// Weights are the score contributions of each condition.
type Weights struct {
	CrossUp       int `yaml:"cross_up"`
	Oversold      int `yaml:"oversold"`
	RSILow        int `yaml:"rsi_low"`
	Dip           int `yaml:"dip"`
	MomentumTrend int `yaml:"momentum_trend"`
	VolumeSpike   int `yaml:"volume_spike"`

	CrossDown    int `yaml:"cross_down"`
	Overbought   int `yaml:"overbought"`
	Overextended int `yaml:"overextended"`

	// Subtracted from the buy score.
	OverboughtPenalty  int `yaml:"overbought_penalty"`
	UnconfirmedPenalty int `yaml:"unconfirmed_penalty"`
}

// ScorerConfig holds thresholds and weights for Score.
type ScorerConfig struct {
	RSIOversold          float64 `yaml:"rsi_oversold"`
	RSILow               float64 `yaml:"rsi_low"`
	RSIOverbought        float64 `yaml:"rsi_overbought"`
	RSIOverextended      float64 `yaml:"rsi_overextended"`
	DipThreshold         float64 `yaml:"dip_threshold"`
	MomentumThreshold    float64 `yaml:"momentum_threshold"`
	OverextendedMomentum float64 `yaml:"overextended_momentum"`
	VolumeSpikeMult      float64 `yaml:"volume_spike_mult"`
	BuyThreshold         int     `yaml:"buy_threshold"`
	SellThreshold        int     `yaml:"sell_threshold"`
	Weights              Weights `yaml:"weights"`
}

// DefaultScorerConfig returns the tuning the engine ships with.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		RSIOversold:          30,
		RSILow:               40,
		RSIOverbought:        70,
		RSIOverextended:      65,
		DipThreshold:         -0.003,
		MomentumThreshold:    0.002,
		OverextendedMomentum: 0.005,
		VolumeSpikeMult:      1.5,
		BuyThreshold:         3,
		SellThreshold:        3,
		Weights: Weights{
			CrossUp:            3,
			Oversold:           3,
			RSILow:             1,
			Dip:                2,
			MomentumTrend:      2,
			VolumeSpike:        1,
			CrossDown:          3,
			Overbought:         2,
			Overextended:       1,
			OverboughtPenalty:  2,
			UnconfirmedPenalty: 1,
		},
	}
}

// Score turns a snapshot into a signal. It has no side effects.
func Score(s indicators.Snapshot, cfg ScorerConfig) Signal {
	w := cfg.Weights
	buy, sell := 0, 0
	var reasons []string

	if s.CrossUp {
		buy += w.CrossUp
		reasons = append(reasons, "EMA crossover ↑")
	}
	if s.RSI < cfg.RSIOversold {
		buy += w.Oversold
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", s.RSI))
	}
	if s.RSI < cfg.RSILow && s.RSI >= cfg.RSIOversold {
		buy += w.RSILow
		reasons = append(reasons, fmt.Sprintf("RSI low (%.1f)", s.RSI))
	}
	if s.ShortMomentum <= cfg.DipThreshold {
		buy += w.Dip
		reasons = append(reasons, fmt.Sprintf("Dip detected (%s)", pct(s.ShortMomentum)))
	}
	if s.MediumMomentum > cfg.MomentumThreshold && s.TrendUp {
		buy += w.MomentumTrend
		reasons = append(reasons, "Momentum ↑ + trend ↑")
	}
	if s.VolumeSpike >= cfg.VolumeSpikeMult {
		buy += w.VolumeSpike
		reasons = append(reasons, fmt.Sprintf("Volume spike (%.1fx)", s.VolumeSpike))
	}

	if s.CrossDown {
		sell += w.CrossDown
		reasons = append(reasons, "EMA crossover ↓")
	}
	if s.RSI > cfg.RSIOverbought {
		sell += w.Overbought
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", s.RSI))
	}
	if s.ShortMomentum > cfg.OverextendedMomentum && s.RSI > cfg.RSIOverextended {
		sell += w.Overextended
		reasons = append(reasons, "Overextended")
	}

	if s.RSI > cfg.RSIOverbought {
		buy -= w.OverboughtPenalty
	}
	if !s.TrendUp && !s.CrossUp && s.ShortMomentum > 0 {
		buy -= w.UnconfirmedPenalty
	}

	reason := strings.Join(reasons, " | ")
	switch {
	case buy >= cfg.BuyThreshold:
		return Signal{Action: ActionBuy, Strength: buy, Reason: reason}
	case sell >= cfg.SellThreshold:
		return Signal{Action: ActionSignalSell, Strength: sell, Reason: reason}
	}
	if reason == "" {
		reason = "No clear signal"
	}
	return Hold(reason)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// Momentum is the multi-factor scorer wrapped as a Strategy.
type Momentum struct {
	cfg ScorerConfig
}

// NewMomentum builds the default momentum scalper strategy.
func NewMomentum(cfg ScorerConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Evaluate(in Input) Signal {
	if !in.Ready {
		sig := Hold("Insufficient data")
		sig.Strategy = m.Name()
		return sig
	}
	sig := Score(in.Snapshot, m.cfg)
	sig.Strategy = m.Name()
	return sig
}
