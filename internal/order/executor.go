package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scalper-core/internal/audit"
	"scalper-core/internal/events"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/position"
	"scalper-core/internal/risk"
	"scalper-core/internal/state"
	"scalper-core/internal/strategy"
	"scalper-core/pkg/db"
	"scalper-core/pkg/exchanges/common"
)

// Deps are the collaborators an Executor writes through. Venue, Positions and Session are
// required; the rest may be nil.
type Deps struct {
	Venue     Venue
	Positions *position.Manager
	Session   *state.Session
	Journal   Journal
	Audit     *audit.Trail
	Metrics   *monitor.Metrics
	Notifier  notify.Notifier
	Bus       *events.Bus
	Log       zerolog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Executor is the only caller of the exchange gateway. It re-checks balances right before
// submitting, books fills into the position store and session, and reports every outcome.
type Executor struct {
	cfg       Config
	venue     Venue
	positions *position.Manager
	session   *state.Session
	journal   Journal
	trail     *audit.Trail
	metrics   *monitor.Metrics
	notifier  notify.Notifier
	bus       *events.Bus
	log       zerolog.Logger
	now       func() time.Time

	mu             sync.Mutex
	inventoryAlert map[string]time.Time // position id -> last short-inventory alert
}

func NewExecutor(cfg Config, d Deps) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.InventoryAlertInterval <= 0 {
		cfg.InventoryAlertInterval = 60 * time.Second
	}
	n := d.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		cfg:            cfg,
		venue:          d.Venue,
		positions:      d.Positions,
		session:        d.Session,
		journal:        d.Journal,
		trail:          d.Audit,
		metrics:        d.Metrics,
		notifier:       n,
		bus:            d.Bus,
		log:            d.Log.With().Str("component", "executor").Logger(),
		now:            clock,
		inventoryAlert: make(map[string]time.Time),
	}
}

// Enter buys sizing.Quantity at price and admits the resulting position. It returns nil when
// the entry did not happen; every failure has already been logged and, where it matters,
// alerted.
func (e *Executor) Enter(ctx context.Context, price float64, sizing risk.Sizing, sig strategy.Signal) *position.Position {
	fee := sizing.Notional * e.cfg.FeeRate
	e.log.Info().Int("strength", sig.Strength).Str("reason", sig.Reason).
		Float64("qty", sizing.Quantity).Float64("price", price).Float64("notional", sizing.Notional).
		Msg("placing buy")

	avail, err := e.balance(ctx, e.cfg.QuoteCurrency)
	if err != nil {
		e.log.Warn().Err(err).Msg("quote balance lookup failed")
		e.metrics.Order("buy", "account_error")
		e.notifier.Notify(fmt.Sprintf("Balance lookup before buy failed: %v", err), notify.Options{DedupeKey: "buy_balance_fail"})
		return nil
	}
	if sizing.Notional+fee > avail {
		e.log.Info().Float64("need", sizing.Notional+fee).Float64("available", avail).
			Msg("buy skipped: insufficient quote balance")
		e.metrics.Order("buy", common.ExecInsufficientFunds.String())
		return nil
	}

	req := common.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        e.cfg.Symbol,
		Side:          common.SideBuy,
		Type:          common.OrderTypeLimit,
		Price:         price,
		Qty:           sizing.Quantity,
	}
	rec := e.record(req, sig.Reason)
	e.trail.Record(audit.TypeOrderSubmit, req)

	res, err := e.submit(ctx, req)
	if err != nil {
		kind := common.ClassifyExecution(err)
		e.rejected(ctx, rec, err, kind)
		if kind == common.ExecInsufficientFunds {
			e.log.Info().Err(err).Msg("buy rejected for insufficient funds")
			return nil
		}
		e.log.Error().Err(err).Msg("buy failed")
		detail := err.Error()
		e.notifier.Notify("Buy failed: "+detail, notify.Options{DedupeKey: "buy_fail:" + head(detail, 60)})
		return nil
	}

	fillPrice, fillQty := fillOf(res, price, sizing.Quantity)
	now := e.now()
	pos := position.Position{
		ID:            uuid.NewString(),
		OrderID:       res.ExchangeOrderID,
		Symbol:        e.cfg.Symbol,
		EntryPrice:    fillPrice * (1 + e.cfg.FeeRate),
		RawEntryPrice: fillPrice,
		Quantity:      fillQty,
		EntryTime:     now,
		PeakPrice:     fillPrice,
		Source:        position.SourceStrategy,
		Signal:        sig.Reason,
	}
	e.positions.Admit(pos)
	e.session.RecordOrder()

	rec.ExchangeOrderID = res.ExchangeOrderID
	rec.PositionID = pos.ID
	rec.Price = fillPrice
	rec.Qty = fillQty
	rec.Notional = fillPrice * fillQty
	rec.Fee = rec.Notional * e.cfg.FeeRate
	rec.Status = string(res.Status)
	e.journalOrder(ctx, rec)
	e.trail.Record(audit.TypeOrderFill, rec)
	e.metrics.Order("buy", "filled")
	e.publish(events.EventOrderFilled, rec)
	e.publish(events.EventPositionOpened, pos)

	e.log.Info().Str("position", pos.ID).Float64("entry", pos.EntryPrice).Float64("qty", pos.Quantity).Msg("position opened")
	e.notifier.Notify(fmt.Sprintf(
		"BUY filled (%s)\nPrice: %s\nQty: %s\nAmount: %s\nFee: %s\nStrength: %d\nReason: %s",
		e.cfg.Mode, notify.KRW(fillPrice), notify.Qty(fillQty), notify.KRW(rec.Notional), notify.KRW(rec.Fee), sig.Strength, sig.Reason,
	), notify.Options{})
	return &pos
}

// Exit sells fraction of the position at price. It returns nil when no sale happened.
func (e *Executor) Exit(ctx context.Context, pos position.Position, price float64, reason string, fraction float64) *position.ClosedTrade {
	sellQty := position.FloorQty(pos.Quantity * fraction)
	if sellQty <= position.QtyEpsilon {
		return nil
	}

	held, err := e.balance(ctx, e.cfg.BaseCurrency)
	if err != nil {
		e.log.Warn().Err(err).Str("position", pos.ID).Msg("base balance lookup failed")
		e.metrics.Order("sell", "account_error")
		e.notifier.Notify(fmt.Sprintf("Balance lookup before sell failed: %v", err), notify.Options{})
		return nil
	}
	if held+1e-10 < sellQty {
		e.metrics.Order("sell", common.ExecInsufficientInventory.String())
		e.shortInventory(pos.ID, sellQty, held)
		return nil
	}

	req := common.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        e.cfg.Symbol,
		Side:          common.SideSell,
		Type:          common.OrderTypeLimit,
		Price:         price,
		Qty:           sellQty,
	}
	rec := e.record(req, reason)
	rec.PositionID = pos.ID
	e.trail.Record(audit.TypeOrderSubmit, req)

	res, err := e.submit(ctx, req)
	if err != nil {
		kind := common.ClassifyExecution(err)
		e.rejected(ctx, rec, err, kind)
		if kind == common.ExecInsufficientInventory {
			e.shortInventory(pos.ID, sellQty, held)
			return nil
		}
		e.log.Error().Err(err).Str("position", pos.ID).Msg("sell failed")
		e.notifier.Notify(fmt.Sprintf("Sell failed (%s): %v", reason, err), notify.Options{})
		return nil
	}

	fillPrice, fillQty := fillOf(res, price, sellQty)
	entry := pos.BasisPrice()
	gross := fillQty * fillPrice
	exitFee := gross * e.cfg.FeeRate
	entryValue := fillQty * entry
	entryFee := entryValue * e.cfg.FeeRate
	pnl := gross - exitFee - entryValue - entryFee
	pnlPct := 0.0
	if cost := entryValue + entryFee; cost > 0 {
		pnlPct = pnl / cost
	}

	now := e.now()
	trade := position.ClosedTrade{
		PositionID:     pos.ID,
		OrderID:        res.ExchangeOrderID,
		SellPrice:      fillPrice,
		SellQuantity:   fillQty,
		EntryPrice:     entry,
		Fee:            exitFee + entryFee,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		Reason:         reason,
		Timestamp:      now,
	}
	remaining, removed := e.positions.ApplyExit(trade, fraction)
	e.session.RecordExit(pnl, now)
	e.clearInventoryAlert(pos.ID, removed)

	rec.ExchangeOrderID = res.ExchangeOrderID
	rec.Price = fillPrice
	rec.Qty = fillQty
	rec.Notional = gross
	rec.Fee = exitFee
	rec.Status = string(res.Status)
	e.journalOrder(ctx, rec)
	if e.journal != nil {
		_, err := e.journal.InsertClosedTrade(ctx, db.ClosedTrade{
			PositionID: trade.PositionID,
			OrderID:    trade.OrderID,
			Symbol:     e.cfg.Symbol,
			SellPrice:  trade.SellPrice,
			SellQty:    trade.SellQuantity,
			EntryPrice: trade.EntryPrice,
			Fee:        trade.Fee,
			PnL:        trade.RealizedPnL,
			PnLPct:     trade.RealizedPnLPct,
			Reason:     trade.Reason,
			ClosedAt:   trade.Timestamp,
		})
		if err != nil {
			e.log.Error().Err(err).Str("position", pos.ID).Msg("journal closed trade")
		}
	}
	e.trail.Record(audit.TypeExit, trade)
	e.metrics.Order("sell", "filled")
	e.publish(events.EventOrderFilled, rec)
	e.publish(events.EventPositionClosed, trade)

	e.log.Info().Str("position", pos.ID).Str("reason", reason).Float64("qty", fillQty).
		Float64("pnl", pnl).Float64("pnl_pct", pnlPct).Float64("remaining", remaining).Msg("position exit")

	msg := fmt.Sprintf(
		"SELL filled (%s)\nReason: %s\nPrice: %s\nQty: %s\nPnL: %s (%s)\nDaily PnL: %s",
		e.cfg.Mode, reason, notify.KRW(fillPrice), notify.Qty(fillQty), notify.KRW(pnl), notify.Pct(pnlPct), notify.KRW(e.session.DailyRealizedPnL),
	)
	if !removed {
		msg += "\nRemaining: " + notify.Qty(remaining)
	}
	e.notifier.Notify(msg, notify.Options{})
	return &trade
}

// shortInventory alerts about a sale the account cannot cover, at most once per interval
// per position.
func (e *Executor) shortInventory(id string, need, held float64) {
	e.log.Warn().Str("position", id).Float64("need", need).Float64("held", held).Msg("sell skipped: insufficient base balance")

	now := e.now()
	e.mu.Lock()
	last, seen := e.inventoryAlert[id]
	send := !seen || now.Sub(last) >= e.cfg.InventoryAlertInterval
	if send {
		e.inventoryAlert[id] = now
	}
	e.mu.Unlock()
	if !send {
		e.log.Debug().Str("position", id).Msg("short-inventory alert suppressed")
		return
	}
	e.notifier.Notify(fmt.Sprintf("Sell skipped for %s: need %s %s, available %s",
		id, notify.Qty(need), e.cfg.BaseCurrency, notify.Qty(held)), notify.Options{Force: true})
}

func (e *Executor) clearInventoryAlert(id string, removed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inventoryAlert, id)
	// Drop throttle entries whose position is gone.
	if removed {
		for k := range e.inventoryAlert {
			if _, ok := e.positions.Get(k); !ok {
				delete(e.inventoryAlert, k)
			}
		}
	}
}

func (e *Executor) balance(ctx context.Context, currency string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	defer e.metrics.ObserveCall("balance", time.Now())

	v, err := e.venue.AvailableBalance(ctx, currency)
	if err != nil {
		var ae *common.AccountError
		if !errors.As(err, &ae) {
			err = &common.AccountError{Op: "balance " + currency, Err: err}
		}
		return 0, err
	}
	return v, nil
}

// submit sends req under CallTimeout. A timed-out submission is an ExecOther failure; the
// venue may still have accepted the order, which reconciliation will surface.
func (e *Executor) submit(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	defer e.metrics.ObserveCall("submit_order", time.Now())

	res, err := e.venue.SubmitOrder(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var ee *common.ExecutionError
		if !errors.As(err, &ee) {
			err = &common.ExecutionError{Kind: common.ExecOther, Message: "submit timed out after " + e.cfg.CallTimeout.String(), Err: err}
		}
	}
	return res, err
}

func (e *Executor) record(req common.OrderRequest, reason string) db.Order {
	return db.Order{
		ID:        req.ClientOrderID,
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Price:     req.Price,
		Qty:       req.Qty,
		Notional:  req.Price * req.Qty,
		Status:    string(common.StatusNew),
		Reason:    reason,
		Mode:      e.cfg.Mode,
		Strategy:  e.cfg.Strategy,
		CreatedAt: e.now(),
	}
}

func (e *Executor) rejected(ctx context.Context, rec db.Order, err error, kind common.ExecutionKind) {
	rec.Status = string(common.StatusRejected)
	rec.Error = err.Error()
	e.journalOrder(ctx, rec)
	e.trail.Record(audit.TypeOrderError, map[string]any{"order": rec, "kind": kind.String()})
	e.metrics.Order(sideLabel(rec.Side), kind.String())
	e.publish(events.EventOrderRejected, rec)
}

func (e *Executor) journalOrder(ctx context.Context, rec db.Order) {
	if e.journal == nil {
		return
	}
	if err := e.journal.InsertOrder(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("order", rec.ID).Msg("journal order")
	}
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

// fillOf prefers the venue's reported fill over the requested values.
func fillOf(res common.OrderResult, price, qty float64) (float64, float64) {
	if res.AvgPrice > 0 {
		price = res.AvgPrice
	}
	if res.FilledQty > 0 {
		qty = res.FilledQty
	}
	return price, qty
}

func sideLabel(side string) string {
	if side == string(common.SideSell) {
		return "sell"
	}
	return "buy"
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, notify.Options) {}
