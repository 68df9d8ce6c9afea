// Package reconciliation compares the inventory the engine believes it holds with the
// base balance the venue reports.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scalper-core/internal/audit"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/position"
	"scalper-core/internal/state"
	"scalper-core/pkg/exchanges/common"
)

// Tolerance absorbs fee dust and the quantity step.
const Tolerance = 1e-6

// Positions is the read side of the engine.
type Positions interface {
	Status() state.Snapshot
}

// Config tunes the service.
type Config struct {
	Currency string
	Interval time.Duration
	// Confirmations is how many consecutive checks must see a shortfall before alerting.
	// Orders in flight between a snapshot and the balance read cause one-off gaps.
	Confirmations int
}

// Report is the result of one check.
type Report struct {
	Timestamp  time.Time `json:"ts"`
	Currency   string    `json:"currency"`
	TrackedQty float64   `json:"tracked_qty"`
	VenueQty   float64   `json:"venue_qty"`
	// Difference is venue minus tracked. Negative means the venue holds less than the
	// open positions need.
	Difference float64 `json:"difference"`
}

// Shortfall reports whether open positions cannot be fully sold.
func (r Report) Shortfall() bool { return r.Difference < -Tolerance }

// Surplus reports whether the venue holds inventory no position accounts for.
func (r Report) Surplus() bool { return r.Difference > Tolerance }

// Service runs periodic checks. It only reads, it never adjusts positions.
type Service struct {
	cfg       Config
	account   common.Account
	positions Positions
	notifier  notify.Notifier
	audit     *audit.Trail
	metrics   *monitor.Metrics
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	shortRuns int
	last      *Report
}

// NewService wires a reconciler. A nil notifier or audit trail is allowed.
func NewService(cfg Config, account common.Account, positions Positions, notifier notify.Notifier, trail *audit.Trail, metrics *monitor.Metrics, log zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 2
	}
	return &Service{
		cfg:       cfg,
		account:   account,
		positions: positions,
		notifier:  notifier,
		audit:     trail,
		metrics:   metrics,
		log:       log.With().Str("component", "reconcile").Logger(),
		now:       time.Now,
	}
}

// Run checks every interval until ctx is done. Check errors are logged and retried on the
// next interval.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("inventory reconciliation started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Check(ctx); err != nil {
				s.log.Warn().Err(err).Msg("reconciliation failed")
			}
		}
	}
}

// Check compares the tracked open quantity with the venue balance (free plus locked).
func (s *Service) Check(ctx context.Context) (Report, error) {
	holdings, err := s.account.Holdings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("holdings: %w", err)
	}
	venue := 0.0
	for _, h := range holdings {
		if strings.EqualFold(h.Currency, s.cfg.Currency) {
			venue = h.Balance + h.Locked
			break
		}
	}

	tracked := 0.0
	for _, p := range s.positions.Status().Positions {
		if p.Quantity > position.QtyEpsilon {
			tracked += p.Quantity
		}
	}

	r := Report{
		Timestamp:  s.now(),
		Currency:   s.cfg.Currency,
		TrackedQty: tracked,
		VenueQty:   venue,
		Difference: venue - tracked,
	}
	s.handle(r)
	return r, nil
}

// Last returns the most recent report, if any.
func (s *Service) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Service) handle(r Report) {
	s.mu.Lock()
	s.last = &r
	if r.Shortfall() {
		s.shortRuns++
	} else {
		s.shortRuns = 0
	}
	runs := s.shortRuns
	s.mu.Unlock()

	s.metrics.Drift(r.Difference)

	switch {
	case r.Shortfall():
		s.log.Warn().
			Float64("tracked", r.TrackedQty).
			Float64("venue", r.VenueQty).
			Float64("diff", r.Difference).
			Int("consecutive", runs).
			Msg("venue holds less than open positions")
		if runs == s.cfg.Confirmations {
			s.audit.Record("reconcile_shortfall", r)
			if s.notifier != nil {
				s.notifier.Notify(fmt.Sprintf(
					"Inventory mismatch: positions track %.8f %s but the venue holds %.8f (short %.8f). Exits may fail until this is resolved.",
					r.TrackedQty, r.Currency, r.VenueQty, -r.Difference,
				), notify.Options{DedupeKey: "reconcile:shortfall"})
			}
		}
	case r.Surplus():
		s.log.Debug().
			Float64("tracked", r.TrackedQty).
			Float64("venue", r.VenueQty).
			Msg("venue holds untracked inventory")
	default:
		s.log.Debug().Float64("qty", r.TrackedQty).Msg("inventory matches")
	}
}
