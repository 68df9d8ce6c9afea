package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scalper-core/internal/audit"
	"scalper-core/internal/events"
	"scalper-core/internal/indicators"
	"scalper-core/internal/market"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/order"
	"scalper-core/internal/position"
	"scalper-core/internal/risk"
	"scalper-core/internal/state"
	"scalper-core/internal/strategy"
	"scalper-core/pkg/exchanges/common"
)

// Engine owns the session state and runs ticks strictly one after another.
type Engine struct {
	cfg       Config
	feed      common.MarketData
	account   common.Account
	executor  *order.Executor
	positions *position.Manager
	session   *state.Session
	window    *indicators.Window
	calc      indicators.Calculator
	strat     strategy.Strategy
	sizer     *risk.Sizer
	gate      *risk.Gate
	persister state.Persister
	notifier  notify.Notifier
	flusher   Flusher
	trail     *audit.Trail
	metrics   *monitor.Metrics
	bus       *events.Bus
	log       zerolog.Logger
	now       func() time.Time

	// Loop-local state, touched only by the tick goroutine.
	ticks          int
	summaryCounter int
	feedFailures   int
	lastPrice      float64
	lastSnap       *indicators.Snapshot
	lastSignal     strategy.Signal

	// Published copy for readers.
	mu     sync.RWMutex
	status state.Snapshot
}

func New(cfg Config, d Deps) (*Engine, error) {
	switch {
	case d.Feed == nil:
		return nil, errors.New("engine: market data feed is required")
	case d.Account == nil:
		return nil, errors.New("engine: account is required")
	case d.Executor == nil, d.Positions == nil, d.Session == nil:
		return nil, errors.New("engine: executor, positions and session are required")
	case d.Window == nil, d.Strategy == nil, d.Sizer == nil, d.Gate == nil:
		return nil, errors.New("engine: window, strategy, sizer and gate are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MarketDataAlertAfter <= 0 {
		cfg.MarketDataAlertAfter = 3
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	n := d.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	e := &Engine{
		cfg:       cfg,
		feed:      d.Feed,
		account:   d.Account,
		executor:  d.Executor,
		positions: d.Positions,
		session:   d.Session,
		window:    d.Window,
		calc:      d.Calculator,
		strat:     d.Strategy,
		sizer:     d.Sizer,
		gate:      d.Gate,
		persister: d.Persister,
		notifier:  n,
		flusher:   d.Flusher,
		trail:     d.Audit,
		metrics:   d.Metrics,
		bus:       d.Bus,
		log:       d.Log.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
	e.publishStatus()
	return e, nil
}

// Status returns the state as of the last completed tick.
func (e *Engine) Status() state.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Bootstrap values the account, admits preexisting base holdings and announces the start.
// A failure here is fatal for the session.
func (e *Engine) Bootstrap(ctx context.Context) error {
	exit := e.positions.Config()
	gate := e.gate.Config()
	e.notifier.Notify(fmt.Sprintf(
		"Strategy engine started (%s, %s)\nFee: %.2f%%\nTake-profit: %s\nStop-loss: %s\nTrailing: %s\nDaily target: %s\nDaily stop: %s",
		e.cfg.Mode, e.strat.Name(), e.cfg.FeeRate*100,
		notify.Pct(exit.TakeProfitPct), notify.Pct(-exit.StopLossPct), notify.Pct(exit.TrailingStopPct),
		notify.Pct(gate.DailyTargetPct), notify.Pct(-gate.DailyStopLossPct),
	), notify.Options{DedupeKey: "strategy_start"})

	holdings, err := e.holdings(ctx)
	if err != nil {
		e.notifier.Notify(fmt.Sprintf("Account load failed: %v", err), notify.Options{Force: true})
		return fmt.Errorf("load account: %w", err)
	}

	var quote float64
	var base *common.Holding
	for i, h := range holdings {
		switch {
		case strings.EqualFold(h.Currency, e.cfg.QuoteCurrency):
			quote += h.Balance
		case strings.EqualFold(h.Currency, e.cfg.BaseCurrency) && h.Balance > position.QtyEpsilon:
			base = &holdings[i]
		}
	}

	total := quote
	if base != nil {
		tk, err := e.price(ctx)
		if err != nil {
			return fmt.Errorf("price base holdings: %w", err)
		}
		total += base.Balance * tk.Price

		if e.cfg.LoadPreexisting {
			avg := base.AvgBuyPrice
			if avg <= 0 {
				avg = tk.Price
			}
			p := position.Position{
				ID:            "EXISTING-" + strings.ToUpper(e.cfg.BaseCurrency) + "-" + e.now().Format("20060102T150405"),
				Symbol:        e.cfg.Symbol,
				EntryPrice:    avg,
				RawEntryPrice: avg,
				Quantity:      position.FloorQty(base.Balance),
				EntryTime:     e.now(),
				PeakPrice:     avg,
				Source:        position.SourcePreexisting,
			}
			e.positions.Admit(p)
			e.log.Info().Float64("qty", p.Quantity).Float64("avg", avg).Float64("price", tk.Price).
				Msg("loaded preexisting position")
		}
	}

	e.session.StartingBalance = total
	e.session.Recompute()
	e.trail.Record(audit.TypeBootstrap, map[string]any{
		"mode":             e.cfg.Mode,
		"strategy":         e.strat.Name(),
		"starting_balance": total,
		"positions":        e.positions.Open(),
	})
	e.log.Info().Float64("starting_balance", total).Int("positions", e.positions.Len()).Msg("portfolio loaded")
	e.notifier.Notify(fmt.Sprintf("Starting assets: %s\nOpen positions: %d", notify.KRW(total), e.positions.Len()),
		notify.Options{DedupeKey: "strategy_start_assets"})

	e.persist(ctx)
	return nil
}

// Run ticks every poll interval until RunFor elapses or ctx is cancelled, then closes the
// session. Cancellation is only observed between ticks.
func (e *Engine) Run(ctx context.Context) error {
	deadline := e.session.StartedAt.Add(e.cfg.RunFor)
	if e.cfg.RunFor <= 0 {
		deadline = time.Time{}
	}
	e.log.Info().Dur("poll", e.cfg.PollInterval).Time("until", deadline).Msg("engine loop starting")

	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}
		if !deadline.IsZero() && !e.now().Before(deadline) {
			break loop
		}

		// A tick is never interrupted by shutdown; only its external calls time out.
		if err := e.Tick(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn().Err(err).Msg("tick failed")
		}
		timer.Reset(e.cfg.PollInterval)
	}

	e.finish(ctx.Err() != nil)
	return nil
}

// Tick runs one full decision cycle. Errors and panics stop the tick, never the loop.
func (e *Engine) Tick(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
			e.log.Error().Str("stack", string(debug.Stack())).Msg("recovered tick panic")
			// Fills made before the panic must still reach the state file.
			e.persistAfterPanic(ctx)
		}
		if err != nil {
			var md *common.MarketDataError
			if !errors.As(err, &md) {
				e.metrics.TickError("loop")
				e.notifier.Notify("Loop error: "+err.Error(), notify.Options{})
			}
			return
		}
		e.metrics.TickDone(time.Since(started))
	}()

	tk, err := e.price(ctx)
	if err != nil {
		e.marketDataFailed(err)
		return err
	}
	if e.feedFailures > 0 {
		e.log.Info().Int("failures", e.feedFailures).Msg("market data recovered")
		e.feedFailures = 0
	}

	now := e.now()
	sample := indicators.Sample{Timestamp: tk.Timestamp, Price: tk.Price, Volume: tk.Volume}
	if err := e.window.Push(sample); err != nil {
		// The price itself passed validation, so protective exits still run on it.
		e.metrics.TickError("sample")
		e.log.Warn().Err(err).Time("ts", tk.Timestamp).Float64("price", tk.Price).Msg("sample rejected")
		e.lastPrice = tk.Price
		e.checkExits(ctx, tk.Price)
		e.persist(ctx)
		return nil
	}
	e.lastPrice = tk.Price

	snap, serr := e.calc.Snapshot(e.window)
	ready := serr == nil
	if ready {
		e.lastSnap = &snap
	} else {
		e.lastSnap = nil
	}

	e.checkExits(ctx, tk.Price)

	sig := e.strat.Evaluate(strategy.Input{Sample: sample, Snapshot: snap, Ready: ready})
	if sig.Strategy == "" {
		sig.Strategy = e.strat.Name()
	}
	e.lastSignal = sig
	e.metrics.Signal(string(sig.Action))
	e.publish(events.EventSignal, sig)

	decision := e.gate.Evaluate(*e.session, e.positions.Len(), now)
	if sig.Action == strategy.ActionBuy {
		e.enter(ctx, tk.Price, sig, decision)
	}
	if decision.Allowed {
		e.scaleIn(ctx, tk.Price, sig, now)
	}

	e.checkSessionRisk()

	e.ticks++
	e.summaryCounter++
	if e.cfg.SummaryEveryTicks > 0 && e.summaryCounter >= e.cfg.SummaryEveryTicks {
		e.sendSummary()
		e.summaryCounter = 0
	}

	e.metrics.Session(e.positions.Len(), e.session.DailyRealizedPnL, e.session.DailyRealizedPnLPct, e.session.ConsecutiveLosses)
	e.persist(ctx)
	return nil
}

func (e *Engine) checkExits(ctx context.Context, price float64) {
	for _, d := range e.positions.Evaluate(price) {
		pos, ok := e.positions.Get(d.PositionID)
		if !ok {
			continue
		}
		e.log.Info().Str("position", pos.ID).Str("rule", string(d.Rule)).
			Float64("fee_adjusted", d.FeeAdjusted).Float64("drop", d.DropFromPeak).Msg("exit triggered")
		if trade := e.executor.Exit(ctx, pos, price, d.Reason, d.Fraction); trade != nil {
			e.metrics.Exit(string(d.Rule))
		}
	}
}

func (e *Engine) enter(ctx context.Context, price float64, sig strategy.Signal, decision risk.Decision) {
	if !decision.Allowed {
		e.log.Info().Str("reason", decision.Reason).Msg("entry gated")
		e.metrics.GateBlock(gateLabel(decision.Reason))
		e.trail.Record(audit.TypeGateBlock, map[string]any{"reason": decision.Reason, "signal": sig})
		return
	}
	if e.positions.HasOpen(position.SourceStrategy) {
		e.log.Debug().Msg("buy signal ignored: strategy position already open")
		return
	}
	sizing, avail, ok := e.size(ctx, price, sig)
	if !ok {
		e.log.Info().Float64("available", avail).Msg("buy signal but sizing below minimum order")
		return
	}
	e.executor.Enter(ctx, price, sizing, sig)
}

// scaleIn adds to every candidate. The gate is asked again before each order because
// positions opened earlier in the tick count towards its limits.
func (e *Engine) scaleIn(ctx context.Context, price float64, sig strategy.Signal, now time.Time) {
	if !e.cfg.ScaleInEnabled || sig.Action != strategy.ActionBuy || sig.Strength < e.cfg.ScaleInMinStrength {
		return
	}
	for _, cand := range e.positions.ScaleInCandidates(price, e.cfg.ScaleInThreshold) {
		if d := e.gate.Evaluate(*e.session, e.positions.Len(), now); !d.Allowed {
			e.log.Info().Str("position", cand.ID).Str("reason", d.Reason).Msg("scale-in gated")
			e.metrics.GateBlock(gateLabel(d.Reason))
			e.trail.Record(audit.TypeGateBlock, map[string]any{"reason": d.Reason, "signal": sig, "scale_in": cand.ID})
			return
		}
		base, _, ok := e.size(ctx, price, sig)
		if !ok {
			continue
		}
		half, ok := e.sizer.ScaleIn(price, base)
		if !ok {
			continue
		}
		e.log.Info().Str("position", cand.ID).Float64("gain", (price-cand.BasisPrice())/cand.BasisPrice()).Msg("scale-in")

		added := sig
		added.Reason = "Scale-in: " + sig.Reason
		if pos := e.executor.Enter(ctx, price, half, added); pos != nil {
			e.positions.MarkScaledIn(cand.ID)
			e.positions.MarkScaledIn(pos.ID)
		}
	}
}

// size computes an order from the current quote balance. Available funds are reduced by the
// fee so that cost plus fee fits.
func (e *Engine) size(ctx context.Context, price float64, sig strategy.Signal) (risk.Sizing, float64, bool) {
	avail, err := e.available(ctx)
	if err != nil {
		e.metrics.TickError("account")
		e.log.Warn().Err(err).Msg("quote balance lookup failed")
		e.notifier.Notify(fmt.Sprintf("Balance lookup failed: %v", err), notify.Options{DedupeKey: "account_error"})
		return risk.Sizing{}, 0, false
	}
	portfolio := e.session.CurrentBalance
	sizing, ok := e.sizer.Size(price, avail/(1+e.cfg.FeeRate), portfolio)
	if !ok {
		return risk.Sizing{}, avail, false
	}
	if sig.StopPrice > 0 {
		sizing, ok = e.sizer.CapByRisk(price, sig.StopPrice, portfolio, e.positions.Exposure(price), sizing)
	}
	return sizing, avail, ok
}

// checkSessionRisk refreshes derived session figures and raises the daily flags. Whether
// the flags also halt entries is the gate's decision.
func (e *Engine) checkSessionRisk() {
	e.session.Recompute()
	flags := e.gate.SessionFlags(*e.session)
	if flags.Any() {
		e.publish(events.EventRiskAlert, flags)
	}
	cont := " Trading continues."
	if e.gate.Config().HaltOnDailyLimit {
		cont = " New entries are halted."
	}
	if flags.DailyTarget {
		e.notifier.Notify(fmt.Sprintf("Daily target reached (%s).%s", notify.Pct(e.session.DailyRealizedPnLPct), cont),
			notify.Options{DedupeKey: "daily_target"})
	}
	if flags.DailyStop {
		e.notifier.Notify(fmt.Sprintf("Daily stop-loss level reached (%s).%s", notify.Pct(e.session.DailyRealizedPnLPct), cont),
			notify.Options{DedupeKey: "daily_stoploss"})
	}
	if flags.LossStreak {
		n := e.session.ConsecutiveLosses
		e.notifier.Notify(fmt.Sprintf("%d consecutive losses.%s", n, cont),
			notify.Options{DedupeKey: fmt.Sprintf("consec_losses:%d", n)})
	}
}

func (e *Engine) marketDataFailed(err error) {
	e.feedFailures++
	e.metrics.TickError("market_data")
	e.log.Warn().Err(err).Int("failures", e.feedFailures).Msg("market data unavailable, skipping tick")
	if e.feedFailures%e.cfg.MarketDataAlertAfter == 0 {
		e.notifier.Notify(fmt.Sprintf("Market data unavailable (%d consecutive failures): %v", e.feedFailures, err),
			notify.Options{DedupeKey: "market_data"})
	}
}

// finish closes the session: final summary, end notice, state write and a bounded flush.
func (e *Engine) finish(cancelled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FlushTimeout)
	defer cancel()

	e.sendSummary()
	why := "time limit reached"
	if cancelled {
		why = "shutdown requested"
	}
	e.notifier.Notify("Strategy engine session ended ("+why+")", notify.Options{Force: true})
	e.trail.Record(audit.TypeSessionEnd, map[string]any{"reason": why, "session": *e.session, "ticks": e.ticks})
	e.persist(ctx)

	if e.flusher != nil {
		if err := e.flusher.Flush(ctx); err != nil {
			e.log.Warn().Err(err).Msg("notification flush incomplete")
		}
	}
	e.log.Info().Str("reason", why).Int("ticks", e.ticks).Msg("engine session ended")
}

func (e *Engine) persist(ctx context.Context) {
	snap := e.publishStatus()
	e.publish(events.EventSnapshot, snap)
	if e.persister == nil {
		return
	}
	if err := e.persister.Save(ctx, snap); err != nil {
		e.log.Error().Err(err).Msg("persist state")
	}
}

func (e *Engine) persistAfterPanic(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("persist after tick panic failed")
		}
	}()
	e.persist(ctx)
}

func (e *Engine) publishStatus() state.Snapshot {
	snap := state.Snapshot{
		Mode:         e.cfg.Mode,
		Symbol:       e.cfg.Symbol,
		Strategy:     e.strat.Name(),
		Session:      *e.session,
		Positions:    e.positions.Open(),
		ClosedTrades: e.positions.Closed(),
		Prices:       e.window.Samples(),
		LastSignal:   e.lastSignal,
		Ticks:        e.ticks,
		UpdatedAt:    e.now(),
	}
	if e.lastSnap != nil {
		ind := *e.lastSnap
		snap.Indicators = &ind
	}
	e.mu.Lock()
	e.status = snap
	e.mu.Unlock()
	return snap
}

func (e *Engine) price(ctx context.Context) (common.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	defer e.metrics.ObserveCall("fetch_price", time.Now())

	tk, err := e.feed.FetchPrice(ctx, e.cfg.Symbol)
	if err != nil {
		var md *common.MarketDataError
		if !errors.As(err, &md) {
			err = &common.MarketDataError{Symbol: e.cfg.Symbol, Err: err}
		}
		return common.Ticker{}, err
	}
	return market.Validate(tk)
}

func (e *Engine) available(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	defer e.metrics.ObserveCall("balance", time.Now())
	return e.account.AvailableBalance(ctx, e.cfg.QuoteCurrency)
}

func (e *Engine) holdings(ctx context.Context) ([]common.Holding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	defer e.metrics.ObserveCall("holdings", time.Now())
	return e.account.Holdings(ctx)
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

// gateLabel keeps metric label cardinality bounded.
func gateLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "kill switch"):
		return "kill_switch"
	case strings.HasPrefix(reason, "cooldown"):
		return "cooldown"
	case strings.HasPrefix(reason, "daily target"):
		return "daily_target"
	case strings.HasPrefix(reason, "daily stop"):
		return "daily_stop"
	case strings.HasPrefix(reason, "consecutive"):
		return "loss_streak"
	case strings.HasPrefix(reason, "max open"):
		return "max_positions"
	default:
		return "other"
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, notify.Options) {}
