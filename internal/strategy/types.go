package strategy

import "scalper-core/internal/indicators"

// Action is the discrete decision a strategy emits for one tick.
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSignalSell Action = "SIGNAL_SELL"
	ActionHold       Action = "HOLD"
)

// Signal is a decision emitted by a strategy.
type Signal struct {
	Action   Action `json:"action"`
	Strength int    `json:"strength"`
	Reason   string `json:"reason"`
	Strategy string `json:"strategy,omitempty"`

	// Optional protective levels; zero when the strategy does not set them.
	StopPrice float64 `json:"stop_price,omitempty"`
	TakePrice float64 `json:"take_price,omitempty"`
}

// Hold builds a HOLD signal with the given reason.
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reason: reason}
}

// Input is what a strategy sees on each tick.
type Input struct {
	Sample   indicators.Sample
	Snapshot indicators.Snapshot
	// Ready is false while the window is too short to produce a snapshot.
	Ready bool
}

// Strategy defines the interface for all signal producers.
type Strategy interface {
	// Name returns the human-readable name
	Name() string
	// Evaluate turns the tick input into a signal
	Evaluate(in Input) Signal
}
