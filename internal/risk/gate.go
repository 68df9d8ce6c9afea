package risk

import (
	"fmt"
	"time"

	"scalper-core/internal/state"
)

// GateConfig holds the session-level limits.
type GateConfig struct {
	DailyTargetPct       float64
	DailyStopLossPct     float64
	MaxConsecutiveLosses int
	CooldownAfterLoss    time.Duration
	// HaltOnDailyLimit turns the session flags into entry blocks. When false they only
	// produce notifications.
	HaltOnDailyLimit bool
	MaxOpenPositions int // 0 = unlimited
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		DailyTargetPct:       0.05,
		DailyStopLossPct:     0.02,
		MaxConsecutiveLosses: 3,
		CooldownAfterLoss:    120 * time.Second,
	}
}

// SessionFlags reports which daily limits the session has reached.
type SessionFlags struct {
	DailyTarget bool `json:"daily_target"`
	DailyStop   bool `json:"daily_stop"`
	LossStreak  bool `json:"loss_streak"`
}

func (f SessionFlags) Any() bool { return f.DailyTarget || f.DailyStop || f.LossStreak }

// Decision is the gate verdict for new exposure (entries and scale-ins).
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  string       `json:"reason,omitempty"`
	Flags   SessionFlags `json:"flags"`
}

// Switch reports an operator-controlled halt.
type Switch interface {
	Engaged() bool
}

// Gate is the single authority on whether new exposure may be opened. Exits never pass
// through it.
type Gate struct {
	cfg  GateConfig
	kill Switch
}

// NewGate builds a gate. kill may be nil.
func NewGate(cfg GateConfig, kill Switch) *Gate {
	return &Gate{cfg: cfg, kill: kill}
}

func (g *Gate) Config() GateConfig { return g.cfg }

// SessionFlags evaluates the daily limits against s.
func (g *Gate) SessionFlags(s state.Session) SessionFlags {
	var f SessionFlags
	if g.cfg.DailyTargetPct > 0 && s.DailyRealizedPnLPct >= g.cfg.DailyTargetPct {
		f.DailyTarget = true
	}
	if g.cfg.DailyStopLossPct > 0 && s.DailyRealizedPnLPct <= -g.cfg.DailyStopLossPct {
		f.DailyStop = true
	}
	if g.cfg.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		f.LossStreak = true
	}
	return f
}

// InCooldown reports whether now falls inside the post-loss cooldown and how much of it
// remains.
func (g *Gate) InCooldown(s state.Session, now time.Time) (bool, time.Duration) {
	if s.ConsecutiveLosses <= 0 || s.LastLossAt.IsZero() || g.cfg.CooldownAfterLoss <= 0 {
		return false, 0
	}
	elapsed := now.Sub(s.LastLossAt)
	if elapsed >= g.cfg.CooldownAfterLoss {
		return false, 0
	}
	return true, g.cfg.CooldownAfterLoss - elapsed
}

// Evaluate decides whether a new entry or scale-in may be submitted.
func (g *Gate) Evaluate(s state.Session, openPositions int, now time.Time) Decision {
	d := Decision{Allowed: true, Flags: g.SessionFlags(s)}

	switch {
	case g.kill != nil && g.kill.Engaged():
		d.Allowed, d.Reason = false, "kill switch engaged"
	case g.cooling(s, now, &d):
	case g.cfg.HaltOnDailyLimit && d.Flags.DailyTarget:
		d.Allowed, d.Reason = false, "daily target reached"
	case g.cfg.HaltOnDailyLimit && d.Flags.DailyStop:
		d.Allowed, d.Reason = false, "daily stop-loss reached"
	case g.cfg.HaltOnDailyLimit && d.Flags.LossStreak:
		d.Allowed, d.Reason = false, fmt.Sprintf("consecutive losses %d/%d", s.ConsecutiveLosses, g.cfg.MaxConsecutiveLosses)
	case g.cfg.MaxOpenPositions > 0 && openPositions >= g.cfg.MaxOpenPositions:
		d.Allowed, d.Reason = false, fmt.Sprintf("max open positions (%d)", g.cfg.MaxOpenPositions)
	}
	return d
}

func (g *Gate) cooling(s state.Session, now time.Time, d *Decision) bool {
	in, left := g.InCooldown(s, now)
	if !in {
		return false
	}
	d.Allowed = false
	d.Reason = fmt.Sprintf("cooldown after loss (%ds left)", int(left.Seconds()+0.5))
	return true
}
