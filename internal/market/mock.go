package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"scalper-core/pkg/exchanges/common"
)

// MockFeed generates a random-walk price series for local development. It satisfies
// common.MarketData.
type MockFeed struct {
	mu    sync.Mutex
	price float64
	step  float64 // max relative move per call
	vol   float64
	rng   *rand.Rand
	now   func() time.Time
}

// NewMockFeed starts the walk at startPrice. A zero seed uses the clock.
func NewMockFeed(startPrice, step float64, seed int64) *MockFeed {
	if startPrice <= 0 {
		startPrice = 100_000_000
	}
	if step <= 0 {
		step = 0.001
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockFeed{
		price: startPrice,
		step:  step,
		vol:   1,
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
}

func (m *MockFeed) FetchPrice(ctx context.Context, symbol string) (common.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return common.Ticker{}, &common.MarketDataError{Symbol: symbol, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.price *= 1 + (m.rng.Float64()*2-1)*m.step
	m.price = math.Max(m.price, 1)
	m.vol = math.Max(0, m.vol+m.rng.NormFloat64()*0.1)
	return Validate(common.Ticker{
		Symbol:    symbol,
		Price:     math.Round(m.price),
		Volume:    m.vol,
		Timestamp: m.now(),
	})
}
