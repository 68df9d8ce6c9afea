package state

import "time"

// Session is the process-lifetime trading aggregate. It is reset only by a restart.
type Session struct {
	StartingBalance     float64   `json:"starting_balance"`
	CurrentBalance      float64   `json:"current_balance"`
	DailyRealizedPnL    float64   `json:"daily_pnl"`
	DailyRealizedPnLPct float64   `json:"daily_pnl_pct"`
	ConsecutiveLosses   int       `json:"consecutive_losses"`
	LastLossAt          time.Time `json:"last_loss_ts"`
	OrderCount          int       `json:"order_count"`
	StartedAt           time.Time `json:"start_ts"`
}

// NewSession starts a session valued at startingBalance.
func NewSession(startingBalance float64, now time.Time) *Session {
	return &Session{
		StartingBalance: startingBalance,
		CurrentBalance:  startingBalance,
		StartedAt:       now,
	}
}

// RecordOrder counts one accepted order.
func (s *Session) RecordOrder() {
	s.OrderCount++
}

// RecordExit books a realized result. Losses extend the streak and stamp LastLossAt;
// anything else resets the streak.
func (s *Session) RecordExit(pnl float64, at time.Time) {
	s.DailyRealizedPnL += pnl
	s.OrderCount++
	if pnl < 0 {
		s.ConsecutiveLosses++
		s.LastLossAt = at
	} else {
		s.ConsecutiveLosses = 0
	}
	s.Recompute()
}

// Recompute refreshes the derived balance and percentage.
func (s *Session) Recompute() {
	s.CurrentBalance = s.StartingBalance + s.DailyRealizedPnL
	if s.StartingBalance > 0 {
		s.DailyRealizedPnLPct = s.DailyRealizedPnL / s.StartingBalance
	} else {
		s.DailyRealizedPnLPct = 0
	}
}
