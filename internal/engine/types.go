package engine

import (
	"time"

	"github.com/rs/zerolog"

	"scalper-core/internal/audit"
	"scalper-core/internal/events"
	"scalper-core/internal/indicators"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/order"
	"scalper-core/internal/position"
	"scalper-core/internal/risk"
	"scalper-core/internal/state"
	"scalper-core/internal/strategy"
	"scalper-core/pkg/exchanges/common"
)

// Config holds the loop parameters.
type Config struct {
	Mode          string
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	FeeRate       float64

	PollInterval      time.Duration
	RunFor            time.Duration
	CallTimeout       time.Duration
	SummaryEveryTicks int
	// MarketDataAlertAfter is the number of consecutive price failures before an alert.
	MarketDataAlertAfter int
	FlushTimeout         time.Duration

	ScaleInEnabled     bool
	ScaleInThreshold   float64
	ScaleInMinStrength int

	LoadPreexisting bool
}

// DefaultConfig returns the loop settings the engine ships with.
func DefaultConfig() Config {
	return Config{
		Mode:                 "paper",
		Symbol:               "BTC_KRW",
		BaseCurrency:         "BTC",
		QuoteCurrency:        "KRW",
		FeeRate:              0.0004,
		PollInterval:         10 * time.Second,
		RunFor:               24 * time.Hour,
		CallTimeout:          10 * time.Second,
		SummaryEveryTicks:    360,
		MarketDataAlertAfter: 3,
		FlushTimeout:         5 * time.Second,
		ScaleInEnabled:       true,
		ScaleInThreshold:     0.005,
		ScaleInMinStrength:   4,
		LoadPreexisting:      true,
	}
}

// Deps wires the engine to its collaborators. Feed, Account, Executor, Positions, Session,
// Window, Strategy, Sizer and Gate are required.
type Deps struct {
	Feed       common.MarketData
	Account    common.Account
	Executor   *order.Executor
	Positions  *position.Manager
	Session    *state.Session
	Window     *indicators.Window
	Calculator indicators.Calculator
	Strategy   strategy.Strategy
	Sizer      *risk.Sizer
	Gate       *risk.Gate

	Persister state.Persister
	Notifier  notify.Notifier
	Flusher   Flusher
	Audit     *audit.Trail
	Metrics   *monitor.Metrics
	Bus       *events.Bus
	Log       zerolog.Logger
}
