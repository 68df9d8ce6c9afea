package indicators

import "errors"

// ErrInsufficientData is returned while the window holds fewer samples than the slow EMA period.
var ErrInsufficientData = errors.New("indicators: insufficient data")

// Config selects the lookbacks used by the Calculator.
type Config struct {
	FastPeriod            int `yaml:"ema_fast"`
	SlowPeriod            int `yaml:"ema_slow"`
	RSIPeriod             int `yaml:"rsi_period"`
	ShortMomentumSamples  int `yaml:"short_momentum_samples"`
	MediumMomentumSamples int `yaml:"medium_momentum_samples"`
}

// DefaultConfig mirrors the live engine defaults: EMA 5/20, RSI 14, momentum over 3 and 10 samples.
func DefaultConfig() Config {
	return Config{
		FastPeriod:            5,
		SlowPeriod:            20,
		RSIPeriod:             14,
		ShortMomentumSamples:  3,
		MediumMomentumSamples: 10,
	}
}

// Snapshot is the indicator set derived from one window state.
type Snapshot struct {
	EMAFast        float64 `json:"ema_fast"`
	EMASlow        float64 `json:"ema_slow"`
	RSI            float64 `json:"rsi"`
	ShortMomentum  float64 `json:"short_momentum"`
	MediumMomentum float64 `json:"medium_momentum"`
	VolumeSpike    float64 `json:"volume_spike"`
	AvgVolume      float64 `json:"avg_volume"`
	LastVolume     float64 `json:"last_volume"`
	CrossUp        bool    `json:"cross_up"`
	CrossDown      bool    `json:"cross_down"`
	TrendUp        bool    `json:"trend_up"`
	CurrentPrice   float64 `json:"current_price"`
}

// Calculator derives snapshots from a window. It holds no state between calls.
type Calculator struct {
	cfg Config
}

// NewCalculator builds a calculator, filling zero fields from DefaultConfig.
func NewCalculator(cfg Config) Calculator {
	def := DefaultConfig()
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = def.FastPeriod
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = def.SlowPeriod
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.ShortMomentumSamples <= 0 {
		cfg.ShortMomentumSamples = def.ShortMomentumSamples
	}
	if cfg.MediumMomentumSamples <= 0 {
		cfg.MediumMomentumSamples = def.MediumMomentumSamples
	}
	return Calculator{cfg: cfg}
}

// Snapshot computes the indicator set for the current window contents.
func (c Calculator) Snapshot(w *Window) (Snapshot, error) {
	if w == nil || w.Len() < c.cfg.SlowPeriod {
		return Snapshot{}, ErrInsufficientData
	}
	return c.Compute(w.Prices(), w.Volumes())
}

// Compute is Snapshot over raw slices, oldest first.
func (c Calculator) Compute(prices, volumes []float64) (Snapshot, error) {
	if len(prices) < c.cfg.SlowPeriod || len(prices) == 0 {
		return Snapshot{}, ErrInsufficientData
	}

	fast, _ := EMA(prices, c.cfg.FastPeriod)
	slow, _ := EMA(prices, c.cfg.SlowPeriod)
	s := Snapshot{
		EMAFast:        fast,
		EMASlow:        slow,
		RSI:            RSI(prices, c.cfg.RSIPeriod),
		ShortMomentum:  Momentum(prices, c.cfg.ShortMomentumSamples),
		MediumMomentum: Momentum(prices, c.cfg.MediumMomentumSamples),
		TrendUp:        fast > slow,
		CurrentPrice:   prices[len(prices)-1],
	}

	// Crossovers need the pair from one sample earlier; without it both flags stay false.
	prev := prices[:len(prices)-1]
	prevFast, okFast := EMA(prev, c.cfg.FastPeriod)
	prevSlow, okSlow := EMA(prev, c.cfg.SlowPeriod)
	if okFast && okSlow {
		s.CrossUp = prevFast <= prevSlow && fast > slow
		s.CrossDown = prevFast >= prevSlow && fast < slow
	}

	s.AvgVolume, s.LastVolume, s.VolumeSpike = volumeSpike(volumes)
	return s, nil
}

// volumeSpike compares the newest positive volume with the mean of all positive volumes.
func volumeSpike(volumes []float64) (avg, last, spike float64) {
	sum := 0.0
	n := 0
	for _, v := range volumes {
		if v > 0 {
			sum += v
			last = v
			n++
		}
	}
	if n == 0 {
		return 0, 0, 1
	}
	avg = sum / float64(n)
	return avg, last, last / avg
}
