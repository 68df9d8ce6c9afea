package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// Ticker is one validated price observation. Price is always > 0.
type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Holding is one currency balance at the venue.
type Holding struct {
	Currency    string
	Balance     float64
	Locked      float64
	AvgBuyPrice float64
}

// Available is the unlocked part of the balance.
func (h Holding) Available() float64 {
	if v := h.Balance - h.Locked; v > 0 {
		return v
	}
	return 0
}

// OrderRequest is the normalized order sent to any venue.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Qty           float64
}

// OrderResult captures the venue's acknowledgement.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	FilledQty       float64
	AvgPrice        float64
	Fee             float64
}
