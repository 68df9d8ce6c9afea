package strategy

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"scalper-core/internal/indicators"
)

// ATRTrendConfig tunes the ATR trend-following strategy.
type ATRTrendConfig struct {
	BarTicks       int     `yaml:"bar_ticks"`
	MaxBars        int     `yaml:"max_bars"`
	EMAFast        int     `yaml:"ema_fast"`
	EMASlow        int     `yaml:"ema_slow"`
	RegimeFast     int     `yaml:"regime_fast"`
	RegimeSlow     int     `yaml:"regime_slow"`
	RSIPeriod      int     `yaml:"rsi_period"`
	RSIMin         float64 `yaml:"rsi_min"`
	RSIMax         float64 `yaml:"rsi_max"`
	ATRPeriod      int     `yaml:"atr_period"`
	StopATRMult    float64 `yaml:"stop_atr_mult"`
	TakeATRMult    float64 `yaml:"take_atr_mult"`
	SignalStrength int     `yaml:"signal_strength"`
}

// DefaultATRTrendConfig aggregates 30 ticks per bar (five minutes at a 10s poll).
func DefaultATRTrendConfig() ATRTrendConfig {
	return ATRTrendConfig{
		BarTicks:       30,
		MaxBars:        300,
		EMAFast:        9,
		EMASlow:        21,
		RegimeFast:     50,
		RegimeSlow:     200,
		RSIPeriod:      14,
		RSIMin:         45,
		RSIMax:         68,
		ATRPeriod:      14,
		StopATRMult:    1.2,
		TakeATRMult:    1.8,
		SignalStrength: 3,
	}
}

type bar struct {
	open, high, low, close float64
	ticks                  int
}

// ATRTrend enters with the trend when a higher-period regime agrees and RSI sits in a
// neutral band. Every BUY carries ATR-based stop and take levels.
type ATRTrend struct {
	cfg  ATRTrendConfig
	bars []bar
	cur  *bar
}

// NewATRTrend builds the strategy. Zero fields fall back to DefaultATRTrendConfig.
func NewATRTrend(cfg ATRTrendConfig) *ATRTrend {
	def := DefaultATRTrendConfig()
	if cfg.BarTicks <= 0 {
		cfg.BarTicks = def.BarTicks
	}
	if cfg.EMAFast <= 0 {
		cfg.EMAFast = def.EMAFast
	}
	if cfg.EMASlow <= 0 {
		cfg.EMASlow = def.EMASlow
	}
	if cfg.RegimeFast <= 0 {
		cfg.RegimeFast = def.RegimeFast
	}
	if cfg.RegimeSlow <= 0 {
		cfg.RegimeSlow = def.RegimeSlow
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.RSIMax <= 0 {
		cfg.RSIMin, cfg.RSIMax = def.RSIMin, def.RSIMax
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.StopATRMult <= 0 {
		cfg.StopATRMult = def.StopATRMult
	}
	if cfg.TakeATRMult <= 0 {
		cfg.TakeATRMult = def.TakeATRMult
	}
	if cfg.SignalStrength <= 0 {
		cfg.SignalStrength = def.SignalStrength
	}
	if cfg.MaxBars < cfg.RegimeSlow+1 {
		cfg.MaxBars = cfg.RegimeSlow + 1
	}
	return &ATRTrend{cfg: cfg}
}

func (a *ATRTrend) Name() string { return "atr_trend" }

func (a *ATRTrend) Evaluate(in Input) Signal {
	a.observe(in.Sample)

	sig := a.decide(in.Sample.Price)
	sig.Strategy = a.Name()
	return sig
}

func (a *ATRTrend) observe(s indicators.Sample) {
	if s.Price <= 0 {
		return
	}
	if a.cur == nil {
		a.cur = &bar{open: s.Price, high: s.Price, low: s.Price}
	}
	a.cur.high = math.Max(a.cur.high, s.Price)
	a.cur.low = math.Min(a.cur.low, s.Price)
	a.cur.close = s.Price
	a.cur.ticks++
	if a.cur.ticks < a.cfg.BarTicks {
		return
	}
	a.bars = append(a.bars, *a.cur)
	a.cur = nil
	if len(a.bars) > a.cfg.MaxBars {
		a.bars = a.bars[len(a.bars)-a.cfg.MaxBars:]
	}
}

func (a *ATRTrend) decide(price float64) Signal {
	need := maxInt(a.cfg.RegimeSlow, a.cfg.EMASlow, a.cfg.RSIPeriod+1, a.cfg.ATRPeriod+1)
	if len(a.bars) < need || price <= 0 {
		return Hold("Insufficient data")
	}

	n := len(a.bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range a.bars {
		closes[i], highs[i], lows[i] = b.close, b.high, b.low
	}

	fast := last(talib.Ema(closes, a.cfg.EMAFast))
	slow := last(talib.Ema(closes, a.cfg.EMASlow))
	regimeFast := last(talib.Ema(closes, a.cfg.RegimeFast))
	regimeSlow := last(talib.Ema(closes, a.cfg.RegimeSlow))
	rsi := last(talib.Rsi(closes, a.cfg.RSIPeriod))
	atr := last(talib.Atr(highs, lows, closes, a.cfg.ATRPeriod))

	regimeBull := regimeFast > 0 && regimeSlow > 0 && regimeFast > regimeSlow
	cross := fast > 0 && slow > 0 && fast > slow
	inBand := rsi >= a.cfg.RSIMin && rsi <= a.cfg.RSIMax

	if !regimeBull || !cross || !inBand || atr <= 0 {
		return Hold(fmt.Sprintf("regime=%t ema=%t rsi=%.1f atr=%.2f", regimeBull, cross, rsi, atr))
	}
	return Signal{
		Action:    ActionBuy,
		Strength:  a.cfg.SignalStrength,
		Reason:    fmt.Sprintf("Trend regime ↑ | EMA%d>EMA%d | RSI %.1f | ATR %.2f", a.cfg.EMAFast, a.cfg.EMASlow, rsi, atr),
		StopPrice: price - a.cfg.StopATRMult*atr,
		TakePrice: price + a.cfg.TakeATRMult*atr,
	}
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
