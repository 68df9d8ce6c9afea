package common

import "context"

// MarketData provides the latest validated price for an instrument.
type MarketData interface {
	FetchPrice(ctx context.Context, symbol string) (Ticker, error)
}

// Account reads balances held at the venue.
type Account interface {
	// AvailableBalance is the free (unlocked) amount of currency.
	AvailableBalance(ctx context.Context, currency string) (float64, error)
	// Holdings lists every non-empty balance with its average buy price.
	Holdings(ctx context.Context) ([]Holding, error)
}

// Gateway abstracts a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Venue is the full capability set the engine consumes.
type Venue interface {
	MarketData
	Account
	Gateway
}
