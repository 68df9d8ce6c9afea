package engine

import (
	"fmt"
	"strings"

	"scalper-core/internal/notify"
)

// sendSummary reports session progress. The dedupe key is the elapsed minute count, so
// a summary is sent at most once per minute of session time.
func (e *Engine) sendSummary() {
	elapsed := int(e.now().Sub(e.session.StartedAt).Minutes())
	open := e.positions.Open()
	unrealized := 0.0
	if e.lastPrice > 0 {
		unrealized = e.positions.UnrealizedPnL(e.lastPrice)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary after %d min\n", elapsed)
	fmt.Fprintf(&b, "Last %s: %s\n", e.cfg.BaseCurrency, notify.KRW(e.lastPrice))
	fmt.Fprintf(&b, "Realized PnL: %s (%s)\n", notify.KRW(e.session.DailyRealizedPnL), notify.Pct(e.session.DailyRealizedPnLPct))
	fmt.Fprintf(&b, "Unrealized PnL: %s\n", notify.KRW(unrealized))
	fmt.Fprintf(&b, "Open positions: %d\n", len(open))
	fmt.Fprintf(&b, "Orders: %d\n", e.session.OrderCount)
	fmt.Fprintf(&b, "Consecutive losses: %d", e.session.ConsecutiveLosses)

	e.notifier.Notify(b.String(), notify.Options{DedupeKey: fmt.Sprintf("periodic:%d", elapsed)})
}
