// Package paper simulates a spot venue with decimal-accurate balances. Limit orders fill
// immediately at the requested price with the taker fee charged in quote currency.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scalper-core/pkg/exchanges/common"
)

// Config seeds the simulated account.
type Config struct {
	BaseCurrency  string
	QuoteCurrency string
	QuoteBalance  float64
	BaseBalance   float64
	BaseAvgPrice  float64
	FeeRate       float64
}

// Fill is one simulated execution.
type Fill struct {
	OrderID string
	Side    common.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Fee     decimal.Decimal
	At      time.Time
}

// Exchange is an in-memory venue. Prices come from feed.
type Exchange struct {
	cfg  Config
	feed common.MarketData
	fee  decimal.Decimal
	now  func() time.Time

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	avgPrice decimal.Decimal
	fills    []Fill
}

var _ common.Venue = (*Exchange)(nil)

// New builds a paper venue. feed may be nil when only the account side is used.
func New(cfg Config, feed common.MarketData) *Exchange {
	cfg.BaseCurrency = strings.ToUpper(cfg.BaseCurrency)
	cfg.QuoteCurrency = strings.ToUpper(cfg.QuoteCurrency)
	return &Exchange{
		cfg:  cfg,
		feed: feed,
		fee:  decimal.NewFromFloat(cfg.FeeRate),
		now:  time.Now,
		balances: map[string]decimal.Decimal{
			cfg.QuoteCurrency: decimal.NewFromFloat(cfg.QuoteBalance),
			cfg.BaseCurrency:  decimal.NewFromFloat(cfg.BaseBalance),
		},
		avgPrice: decimal.NewFromFloat(cfg.BaseAvgPrice),
	}
}

// FetchPrice delegates to the configured feed.
func (e *Exchange) FetchPrice(ctx context.Context, symbol string) (common.Ticker, error) {
	if e.feed == nil {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: errors.New("paper venue has no price feed")}
	}
	return e.feed.FetchPrice(ctx, symbol)
}

func (e *Exchange) AvailableBalance(ctx context.Context, currency string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &common.AccountError{Op: "balance", Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(currency)].InexactFloat64(), nil
}

func (e *Exchange) Holdings(ctx context.Context) ([]common.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, &common.AccountError{Op: "holdings", Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Holding, 0, len(e.balances))
	for cur, bal := range e.balances {
		if !bal.IsPositive() {
			continue
		}
		h := common.Holding{Currency: cur, Balance: bal.InexactFloat64()}
		if cur == e.cfg.BaseCurrency {
			h.AvgBuyPrice = e.avgPrice.InexactFloat64()
		}
		out = append(out, h)
	}
	return out, nil
}

// SubmitOrder fills a limit order in full or rejects it with a typed ExecutionError.
func (e *Exchange) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return common.OrderResult{}, &common.ExecutionError{Message: "context done", Err: err}
	}
	if req.Price <= 0 || req.Qty <= 0 {
		return common.OrderResult{}, &common.ExecutionError{Message: fmt.Sprintf("invalid order price=%v qty=%v", req.Price, req.Qty)}
	}
	price := decimal.NewFromFloat(req.Price)
	qty := decimal.NewFromFloat(req.Qty)
	cost := price.Mul(qty)
	fee := cost.Mul(e.fee)

	e.mu.Lock()
	defer e.mu.Unlock()

	quote := e.balances[e.cfg.QuoteCurrency]
	base := e.balances[e.cfg.BaseCurrency]
	switch req.Side {
	case common.SideBuy:
		need := cost.Add(fee)
		if quote.LessThan(need) {
			return common.OrderResult{}, &common.ExecutionError{
				Kind:    common.ExecInsufficientFunds,
				Message: fmt.Sprintf("insufficient %s: need %s, have %s", e.cfg.QuoteCurrency, need.StringFixed(0), quote.StringFixed(0)),
			}
		}
		held := base.Mul(e.avgPrice)
		base = base.Add(qty)
		e.avgPrice = held.Add(cost).Div(base)
		quote = quote.Sub(need)
	case common.SideSell:
		if base.LessThan(qty) {
			return common.OrderResult{}, &common.ExecutionError{
				Kind:    common.ExecInsufficientInventory,
				Message: fmt.Sprintf("insufficient %s: need %s, have %s", e.cfg.BaseCurrency, qty.String(), base.String()),
			}
		}
		base = base.Sub(qty)
		quote = quote.Add(cost.Sub(fee))
		if base.IsZero() {
			e.avgPrice = decimal.Zero
		}
	default:
		return common.OrderResult{}, &common.ExecutionError{Message: fmt.Sprintf("unknown side %q", req.Side)}
	}
	e.balances[e.cfg.QuoteCurrency] = quote
	e.balances[e.cfg.BaseCurrency] = base

	id := "PAPER-" + uuid.NewString()
	e.fills = append(e.fills, Fill{OrderID: id, Side: req.Side, Price: price, Qty: qty, Fee: fee, At: e.now()})
	return common.OrderResult{
		ExchangeOrderID: id,
		Status:          common.StatusFilled,
		FilledQty:       req.Qty,
		AvgPrice:        req.Price,
		Fee:             fee.InexactFloat64(),
	}, nil
}

// Fills returns a copy of every simulated execution.
func (e *Exchange) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fill(nil), e.fills...)
}
