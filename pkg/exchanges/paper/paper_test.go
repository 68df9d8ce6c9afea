package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalper-core/pkg/exchanges/common"
)

type staticFeed float64

func (f staticFeed) FetchPrice(_ context.Context, symbol string) (common.Ticker, error) {
	return common.Ticker{Symbol: symbol, Price: float64(f), Timestamp: time.Now()}, nil
}

func newExchange() *Exchange {
	return New(Config{BaseCurrency: "btc", QuoteCurrency: "krw", QuoteBalance: 1_000_000, FeeRate: 0.0004}, staticFeed(100_000_000))
}

func TestPaperBuySell(t *testing.T) {
	ctx := context.Background()
	ex := newExchange()

	res, err := ex.SubmitOrder(ctx, common.OrderRequest{Side: common.SideBuy, Price: 100_000_000, Qty: 0.005})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.InDelta(t, 200, res.Fee, 1e-9)

	krw, err := ex.AvailableBalance(ctx, "KRW")
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000-500_000-200, krw, 1e-6)

	btc, err := ex.AvailableBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.005, btc, 1e-12)

	_, err = ex.SubmitOrder(ctx, common.OrderRequest{Side: common.SideSell, Price: 101_000_000, Qty: 0.005})
	require.NoError(t, err)
	krw, _ = ex.AvailableBalance(ctx, "KRW")
	// 499800 + 505000 - 202
	assert.InDelta(t, 1_004_598, krw, 1e-6)
	assert.Len(t, ex.Fills(), 2)
}

func TestPaperInsufficient(t *testing.T) {
	ctx := context.Background()
	ex := newExchange()

	_, err := ex.SubmitOrder(ctx, common.OrderRequest{Side: common.SideBuy, Price: 100_000_000, Qty: 0.01})
	var ee *common.ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, common.ExecInsufficientFunds, ee.Kind, "cost plus fee exceeds balance")

	_, err = ex.SubmitOrder(ctx, common.OrderRequest{Side: common.SideSell, Price: 100_000_000, Qty: 0.001})
	assert.Equal(t, common.ExecInsufficientInventory, common.ClassifyExecution(err))
}

func TestPaperHoldingsAvgPrice(t *testing.T) {
	ctx := context.Background()
	ex := New(Config{BaseCurrency: "BTC", QuoteCurrency: "KRW", QuoteBalance: 10_000_000, BaseBalance: 0.01, BaseAvgPrice: 90_000_000}, nil)

	_, err := ex.SubmitOrder(ctx, common.OrderRequest{Side: common.SideBuy, Price: 110_000_000, Qty: 0.01})
	require.NoError(t, err)

	hs, err := ex.Holdings(ctx)
	require.NoError(t, err)
	var base common.Holding
	for _, h := range hs {
		if h.Currency == "BTC" {
			base = h
		}
	}
	assert.InDelta(t, 0.02, base.Balance, 1e-12)
	assert.InDelta(t, 100_000_000, base.AvgBuyPrice, 1e-6)

	_, err = ex.FetchPrice(ctx, "BTC_KRW")
	var mde *common.MarketDataError
	assert.True(t, errors.As(err, &mde))
}
