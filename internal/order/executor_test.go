package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper-core/internal/events"
	"scalper-core/internal/notify"
	"scalper-core/internal/position"
	"scalper-core/internal/risk"
	"scalper-core/internal/state"
	"scalper-core/internal/strategy"
	"scalper-core/pkg/db"
	"scalper-core/pkg/exchanges/common"
	"scalper-core/pkg/exchanges/paper"
)

const fee = 0.0004

type sent struct {
	msg  string
	opts notify.Options
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) Notify(msg string, opts notify.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{msg, opts})
}

func (r *recordingNotifier) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type memJournal struct {
	orders []db.Order
	trades []db.ClosedTrade
}

func (j *memJournal) InsertOrder(_ context.Context, o db.Order) error {
	j.orders = append(j.orders, o)
	return nil
}

func (j *memJournal) InsertClosedTrade(_ context.Context, t db.ClosedTrade) (int64, error) {
	j.trades = append(j.trades, t)
	return int64(len(j.trades)), nil
}

// stubVenue lets a test script balances and submission errors.
type stubVenue struct {
	balances  map[string]float64
	submitErr error
	submitted int
}

func (s *stubVenue) AvailableBalance(_ context.Context, c string) (float64, error) {
	return s.balances[c], nil
}

func (s *stubVenue) Holdings(context.Context) ([]common.Holding, error) { return nil, nil }

func (s *stubVenue) SubmitOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	s.submitted++
	if s.submitErr != nil {
		return common.OrderResult{}, s.submitErr
	}
	return common.OrderResult{ExchangeOrderID: "X", Status: common.StatusFilled, FilledQty: req.Qty, AvgPrice: req.Price}, nil
}

type fixture struct {
	exec     *Executor
	mgr      *position.Manager
	session  *state.Session
	notifier *recordingNotifier
	journal  *memJournal
	bus      *events.Bus
	clock    time.Time
}

func newFixture(t *testing.T, venue Venue) *fixture {
	t.Helper()
	f := &fixture{
		mgr:      position.NewManager(position.DefaultExitConfig()),
		session:  state.NewSession(1_000_000, time.Unix(1_700_000_000, 0)),
		notifier: &recordingNotifier{},
		journal:  &memJournal{},
		bus:      events.NewBus(),
		clock:    time.Unix(1_700_000_000, 0),
	}
	f.exec = NewExecutor(Config{
		Mode:          "paper",
		Symbol:        "BTC_KRW",
		BaseCurrency:  "BTC",
		QuoteCurrency: "KRW",
		FeeRate:       fee,
		Strategy:      "momentum",
	}, Deps{
		Venue:     venue,
		Positions: f.mgr,
		Session:   f.session,
		Journal:   f.journal,
		Notifier:  f.notifier,
		Bus:       f.bus,
		Log:       zerolog.Nop(),
	})
	f.exec.now = func() time.Time { return f.clock }
	return f
}

func buySignal() strategy.Signal {
	return strategy.Signal{Action: strategy.ActionBuy, Strength: 4, Reason: "RSI oversold (25.0)"}
}

func TestEnterInsufficientBalanceIsSilent(t *testing.T) {
	venue := paper.New(paper.Config{BaseCurrency: "BTC", QuoteCurrency: "KRW", QuoteBalance: 9_000, FeeRate: fee}, nil)
	f := newFixture(t, venue)

	pos := f.exec.Enter(context.Background(), 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal())

	assert.Nil(t, pos)
	assert.Zero(t, f.mgr.Len())
	assert.Empty(t, f.notifier.all())
	assert.Zero(t, f.session.OrderCount)
	assert.Empty(t, f.journal.orders)
	assert.Empty(t, venue.Fills())
}

func TestEnterOpensFeeAdjustedPosition(t *testing.T) {
	venue := paper.New(paper.Config{BaseCurrency: "BTC", QuoteCurrency: "KRW", QuoteBalance: 1_000_000, FeeRate: fee}, nil)
	f := newFixture(t, venue)
	opened, cancel := f.bus.Subscribe(events.EventPositionOpened, 1)
	defer cancel()

	pos := f.exec.Enter(context.Background(), 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal())

	require.NotNil(t, pos)
	assert.InDelta(t, 100.04, pos.EntryPrice, 1e-9)
	assert.Equal(t, 100.0, pos.RawEntryPrice)
	assert.Equal(t, 100.0, pos.PeakPrice)
	assert.Equal(t, position.SourceStrategy, pos.Source)
	assert.Equal(t, 1, f.session.OrderCount)
	assert.Equal(t, 1, f.mgr.Len())

	require.Len(t, f.journal.orders, 1)
	assert.Equal(t, "FILLED", f.journal.orders[0].Status)
	assert.Equal(t, pos.ID, f.journal.orders[0].PositionID)

	require.Len(t, f.notifier.all(), 1)
	assert.Contains(t, f.notifier.all()[0].msg, "BUY filled")

	select {
	case got := <-opened:
		assert.Equal(t, pos.ID, got.(position.Position).ID)
	default:
		t.Fatal("position.opened not published")
	}

	left, err := venue.AvailableBalance(context.Background(), "KRW")
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000-10_000-4, left, 1e-6)
}

func TestEnterRejectionAlerting(t *testing.T) {
	t.Run("insufficient funds is log only", func(t *testing.T) {
		v := &stubVenue{
			balances:  map[string]float64{"KRW": 1_000_000},
			submitErr: &common.ExecutionError{Kind: common.ExecInsufficientFunds, Message: "insufficient KRW"},
		}
		f := newFixture(t, v)
		assert.Nil(t, f.exec.Enter(context.Background(), 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal()))
		assert.Empty(t, f.notifier.all())
		require.Len(t, f.journal.orders, 1)
		assert.Equal(t, "REJECTED", f.journal.orders[0].Status)
	})

	t.Run("other errors alert with a dedupe key", func(t *testing.T) {
		v := &stubVenue{
			balances:  map[string]float64{"KRW": 1_000_000},
			submitErr: errors.New("venue unavailable: 503 Service Unavailable from upstream gateway after retry budget"),
		}
		f := newFixture(t, v)
		assert.Nil(t, f.exec.Enter(context.Background(), 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal()))
		got := f.notifier.all()
		require.Len(t, got, 1)
		assert.True(t, strings.HasPrefix(got[0].opts.DedupeKey, "buy_fail:"))
		assert.LessOrEqual(t, len([]rune(strings.TrimPrefix(got[0].opts.DedupeKey, "buy_fail:"))), 60)
		assert.Zero(t, f.mgr.Len())
	})
}

func TestExitPartialThenFull(t *testing.T) {
	venue := paper.New(paper.Config{BaseCurrency: "BTC", QuoteCurrency: "KRW", QuoteBalance: 1_000_000, FeeRate: fee}, nil)
	f := newFixture(t, venue)
	ctx := context.Background()

	pos := f.exec.Enter(ctx, 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal())
	require.NotNil(t, pos)

	decisions := f.mgr.Evaluate(101.6)
	require.Len(t, decisions, 1)
	require.Equal(t, position.RuleTakeProfit, decisions[0].Rule)

	held, _ := f.mgr.Get(pos.ID)
	trade := f.exec.Exit(ctx, held, 101.6, decisions[0].Reason, decisions[0].Fraction)
	require.NotNil(t, trade)
	assert.InDelta(t, 50, trade.SellQuantity, 1e-9)

	gross := 50 * 101.6
	entryValue := 50 * 100.0
	want := gross - gross*fee - entryValue - entryValue*fee
	assert.InDelta(t, want, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, want/(entryValue*(1+fee)), trade.RealizedPnLPct, 1e-12)

	held, ok := f.mgr.Get(pos.ID)
	require.True(t, ok)
	assert.True(t, held.PartiallyExited)
	assert.InDelta(t, 50, held.Quantity, 1e-9)

	decisions = f.mgr.Evaluate(100.7)
	require.Len(t, decisions, 1)
	assert.Equal(t, position.RuleTrailingStop, decisions[0].Rule)
	trade = f.exec.Exit(ctx, held, 100.7, decisions[0].Reason, decisions[0].Fraction)
	require.NotNil(t, trade)

	_, ok = f.mgr.Get(pos.ID)
	assert.False(t, ok)
	assert.Len(t, f.journal.trades, 2)
	assert.Equal(t, 3, f.session.OrderCount)
	assert.Zero(t, f.session.ConsecutiveLosses)
}

func TestExitShortInventoryAlertIsThrottled(t *testing.T) {
	v := &stubVenue{balances: map[string]float64{"BTC": 0.001}}
	f := newFixture(t, v)
	pos := position.Position{ID: "p1", RawEntryPrice: 100, EntryPrice: 100.04, Quantity: 1, PeakPrice: 100, Source: position.SourceStrategy}
	f.mgr.Admit(pos)
	ctx := context.Background()

	assert.Nil(t, f.exec.Exit(ctx, pos, 99, "Stop-loss", 1))
	f.clock = f.clock.Add(30 * time.Second)
	assert.Nil(t, f.exec.Exit(ctx, pos, 99, "Stop-loss", 1))
	assert.Len(t, f.notifier.all(), 1)

	f.clock = f.clock.Add(31 * time.Second)
	assert.Nil(t, f.exec.Exit(ctx, pos, 99, "Stop-loss", 1))
	assert.Len(t, f.notifier.all(), 2)
	assert.Zero(t, v.submitted)
	held, ok := f.mgr.Get("p1")
	require.True(t, ok)
	assert.Equal(t, 1.0, held.Quantity)
}

func TestFiveLosingExitsBuildStreak(t *testing.T) {
	venue := paper.New(paper.Config{BaseCurrency: "BTC", QuoteCurrency: "KRW", QuoteBalance: 1_000_000, FeeRate: fee}, nil)
	f := newFixture(t, venue)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pos := f.exec.Enter(ctx, 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal())
		require.NotNil(t, pos)
		f.clock = f.clock.Add(time.Second)
		trade := f.exec.Exit(ctx, *pos, 98.5, "Stop-loss", 1)
		require.NotNil(t, trade)
		assert.Negative(t, trade.RealizedPnL)
	}

	assert.Equal(t, 5, f.session.ConsecutiveLosses)
	assert.Equal(t, f.clock, f.session.LastLossAt)
	assert.Negative(t, f.session.DailyRealizedPnL)
	assert.Zero(t, f.mgr.Len())
}

// stallingVenue blocks every call until the caller's context ends.
type stallingVenue struct {
	stallBalance bool
	balances     map[string]float64
}

func (s *stallingVenue) AvailableBalance(ctx context.Context, c string) (float64, error) {
	if s.stallBalance {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.balances[c], nil
}

func (s *stallingVenue) Holdings(context.Context) ([]common.Holding, error) { return nil, nil }

func (s *stallingVenue) SubmitOrder(ctx context.Context, _ common.OrderRequest) (common.OrderResult, error) {
	<-ctx.Done()
	return common.OrderResult{}, ctx.Err()
}

func TestVenueCallsAreBoundedByCallTimeout(t *testing.T) {
	enter := func(t *testing.T, v Venue) (*fixture, *position.Position, time.Duration) {
		f := newFixture(t, v)
		f.exec.cfg.CallTimeout = 50 * time.Millisecond
		started := time.Now()
		// The tick context never ends on its own.
		pos := f.exec.Enter(context.WithoutCancel(context.Background()), 100, risk.Sizing{Quantity: 100, Notional: 10_000}, buySignal())
		return f, pos, time.Since(started)
	}

	t.Run("balance re-check", func(t *testing.T) {
		f, pos, took := enter(t, &stallingVenue{stallBalance: true})
		assert.Nil(t, pos)
		assert.Less(t, took, 2*time.Second)
		got := f.notifier.all()
		require.Len(t, got, 1)
		assert.Contains(t, got[0].msg, "Balance lookup before buy failed")
		assert.Empty(t, f.journal.orders)
	})

	t.Run("order submission", func(t *testing.T) {
		f, pos, took := enter(t, &stallingVenue{balances: map[string]float64{"KRW": 1_000_000}})
		assert.Nil(t, pos)
		assert.Less(t, took, 2*time.Second)
		assert.Zero(t, f.mgr.Len())
		require.Len(t, f.journal.orders, 1)
		assert.Equal(t, "REJECTED", f.journal.orders[0].Status)
		got := f.notifier.all()
		require.Len(t, got, 1)
		assert.Contains(t, got[0].msg, "Buy failed")
		assert.Contains(t, got[0].msg, "timed out")
	})

	t.Run("sell balance check", func(t *testing.T) {
		f := newFixture(t, &stallingVenue{stallBalance: true})
		f.exec.cfg.CallTimeout = 50 * time.Millisecond
		pos := position.Position{ID: "p1", Symbol: "BTC_KRW", EntryPrice: 100.04, RawEntryPrice: 100, Quantity: 1, PeakPrice: 100}
		f.mgr.Admit(pos)
		started := time.Now()
		assert.Nil(t, f.exec.Exit(context.WithoutCancel(context.Background()), pos, 102, "Take-profit", 1))
		assert.Less(t, time.Since(started), 2*time.Second)
		assert.Equal(t, 1, f.mgr.Len())
	})
}
