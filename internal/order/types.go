package order

import (
	"context"
	"time"

	"scalper-core/pkg/db"
	"scalper-core/pkg/exchanges/common"
)

// Config carries the execution parameters that do not change during a session.
type Config struct {
	Mode          string
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	FeeRate       float64
	Strategy      string
	// CallTimeout bounds each balance lookup and order submission.
	CallTimeout time.Duration
	// InventoryAlertInterval throttles the short-inventory alert per position.
	InventoryAlertInterval time.Duration
}

// Venue is the slice of an exchange the executor talks to.
type Venue interface {
	common.Account
	common.Gateway
}

// Journal persists order attempts and realized exits. *db.Database satisfies it.
type Journal interface {
	InsertOrder(ctx context.Context, o db.Order) error
	InsertClosedTrade(ctx context.Context, t db.ClosedTrade) (int64, error)
}

