// Package notify delivers operator alerts. Notify is fire-and-forget: messages are
// deduplicated, persisted to a bounded queue and delivered by a background worker with
// retry, backoff and a circuit breaker.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"scalper-core/internal/monitor"
	"scalper-core/pkg/circuit"
)

// Options tune a single notification.
type Options struct {
	// DedupeKey groups messages for suppression. Empty means the text itself.
	DedupeKey string
	// Force bypasses duplicate suppression.
	Force bool
}

// Notifier is the only way the engine reaches operators.
type Notifier interface {
	Notify(msg string, opts Options)
}

// Config tunes the service.
type Config struct {
	DedupeWindow     time.Duration
	QueueSize        int
	WALPath          string
	MaxAttempts      int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	SendTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		DedupeWindow:     60 * time.Second,
		QueueSize:        256,
		MaxAttempts:      5,
		BackoffMin:       500 * time.Millisecond,
		BackoffMax:       30 * time.Second,
		SendTimeout:      15 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
	}
}

// Service implements Notifier.
type Service struct {
	cfg     Config
	sink    Sink
	queue   *Queue
	breaker *circuit.Breaker
	metrics *monitor.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var _ Notifier = (*Service)(nil)

// NewService opens the queue (recovering any WAL backlog) and wires the sink.
func NewService(cfg Config, sink Sink, log zerolog.Logger, metrics *monitor.Metrics) (*Service, error) {
	def := DefaultConfig()
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = def.DedupeWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	log = log.With().Str("component", "notify").Str("sink", sink.Name()).Logger()
	q, err := OpenQueue(cfg.WALPath, cfg.QueueSize, log)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		sink:    sink,
		queue:   q,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		recent:  make(map[string]time.Time),
	}
	s.breaker = circuit.New(sink.Name(), cfg.BreakerThreshold, cfg.BreakerCooldown,
		circuit.OnStateChange(func(name string, from, to circuit.State) {
			s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("notifier breaker state change")
		}))
	return s, nil
}

// Notify enqueues msg unless an identical key was sent within the dedupe window. It never
// blocks and never fails.
func (s *Service) Notify(msg string, opts Options) {
	if msg == "" {
		return
	}
	key := opts.DedupeKey
	if key == "" {
		key = msg
	}
	if !s.admit(key, opts.Force) {
		s.log.Debug().Str("key", truncate(key, 80)).Msg("notify suppressed duplicate")
		s.metrics.Notification("suppressed")
		return
	}
	m := Message{ID: uuid.NewString(), Text: msg, Key: opts.DedupeKey, CreatedAt: s.now()}
	if !s.queue.Enqueue(m) {
		s.dropped.Add(1)
		s.metrics.Notification("dropped")
		s.log.Warn().Str("key", truncate(key, 80)).Msg("notify queue full, message dropped")
		return
	}
	s.metrics.Notification("queued")
}

func (s *Service) admit(key string, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.recent[key]; ok && !force && now.Sub(last) < s.cfg.DedupeWindow {
		return false
	}
	s.recent[key] = now
	for k, t := range s.recent {
		if now.Sub(t) > 5*s.cfg.DedupeWindow {
			delete(s.recent, k)
		}
	}
	return true
}

// Run delivers queued messages until ctx is done. Messages interrupted by shutdown stay
// in the WAL for the next start.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.queue.C():
			if s.deliver(ctx, m) {
				s.queue.Complete(m.ID)
			}
		}
	}
}

// deliver reports whether m is finished, either sent or abandoned after MaxAttempts.
func (s *Service) deliver(ctx context.Context, m Message) bool {
	b := &backoff.Backoff{Min: s.cfg.BackoffMin, Max: s.cfg.BackoffMax, Factor: 2, Jitter: true}
	attempts := 0
	for attempts < s.cfg.MaxAttempts {
		if !s.breaker.Allow() {
			if !sleep(ctx, s.cfg.BreakerCooldown/4) {
				return false
			}
			continue
		}
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sink.Send(sendCtx, m.Text)
		cancel()
		if err == nil {
			s.breaker.RecordSuccess()
			s.sent.Add(1)
			s.metrics.Notification("sent")
			return true
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		s.breaker.RecordFailure()
		s.metrics.Notification("retry")
		s.log.Warn().Err(err).Int("attempt", attempts).Str("id", m.ID).Msg("notify send failed")
		if attempts < s.cfg.MaxAttempts && !sleep(ctx, b.Duration()) {
			return false
		}
	}
	s.dropped.Add(1)
	s.metrics.Notification("failed")
	s.log.Error().Str("id", m.ID).Str("text", truncate(m.Text, 120)).Msg("notify gave up")
	return true
}

// Flush waits until every accepted message is delivered or abandoned, or ctx expires.
func (s *Service) Flush(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if s.queue.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close releases the WAL.
func (s *Service) Close() error { return s.queue.Close() }

// Stats is a point-in-time view of delivery counters.
type Stats struct {
	Sent    uint64     `json:"sent"`
	Dropped uint64     `json:"dropped"`
	Queued  int        `json:"queued"`
	Breaker string     `json:"breaker"`
	Queue   QueueStats `json:"queue"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Queued:  s.queue.Len(),
		Breaker: s.breaker.State().String(),
		Queue:   s.queue.Stats(),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
