package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Message is one queued notification.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Key       string    `json:"key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueStats tracks persistence counters.
type QueueStats struct {
	Written   uint64 `json:"written"`
	Recovered uint64 `json:"recovered"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
}

const (
	walEnqueue  = "ENQUEUE"
	walComplete = "COMPLETE"
)

type walEntry struct {
	Action    string    `json:"action"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is a bounded in-memory queue backed by a JSON-lines write-ahead log, so
// undelivered notifications survive a restart.
type Queue struct {
	mu      sync.Mutex
	ch      chan Message
	walPath string
	walFile *os.File
	pending map[string]struct{}
	closed  bool
	log     zerolog.Logger

	written, recovered, completed, rejected atomic.Uint64
}

// OpenQueue opens (or creates) the WAL at walPath and re-enqueues every message that was
// enqueued but never completed. An empty walPath keeps the queue in memory only.
func OpenQueue(walPath string, size int, log zerolog.Logger) (*Queue, error) {
	if size <= 0 {
		size = 256
	}
	q := &Queue{walPath: walPath, pending: make(map[string]struct{}), log: log}
	if walPath == "" {
		q.ch = make(chan Message, size)
		return q, nil
	}
	if err := os.MkdirAll(filepath.Dir(walPath), 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	backlog, err := readWAL(walPath, log)
	if err != nil {
		return nil, err
	}
	if len(backlog) > size {
		size = len(backlog)
	}
	q.ch = make(chan Message, size)
	if err := q.compact(backlog); err != nil {
		return nil, fmt.Errorf("compact wal: %w", err)
	}
	for _, m := range backlog {
		q.pending[m.ID] = struct{}{}
		q.ch <- m
	}
	q.recovered.Add(uint64(len(backlog)))
	if len(backlog) > 0 {
		log.Info().Int("count", len(backlog)).Msg("recovered pending notifications")
	}
	return q, nil
}

// readWAL returns messages enqueued but not completed, oldest first.
func readWAL(path string, log zerolog.Logger) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open wal: %w", err)
	}
	defer f.Close()

	var order []string
	enqueued := make(map[string]Message)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e walEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Warn().Err(err).Msg("wal parse error, skipping line")
			continue
		}
		switch e.Action {
		case walEnqueue:
			if _, seen := enqueued[e.Message.ID]; !seen {
				order = append(order, e.Message.ID)
			}
			enqueued[e.Message.ID] = e.Message
		case walComplete:
			delete(enqueued, e.Message.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan wal: %w", err)
	}
	out := make([]Message, 0, len(enqueued))
	for _, id := range order {
		if m, ok := enqueued[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// compact rewrites the WAL with only the pending entries and reopens it for append.
func (q *Queue) compact(pending []Message) error {
	tmp := q.walPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, m := range pending {
		if err := enc.Encode(walEntry{Action: walEnqueue, Message: m, Timestamp: m.CreatedAt}); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	f.Close()
	if err := os.Rename(tmp, q.walPath); err != nil {
		return err
	}
	q.walFile, err = os.OpenFile(q.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	return err
}

// Enqueue persists then queues m. It never blocks and returns false when the queue is
// full, closed, or the WAL write fails.
func (q *Queue) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.ch) == cap(q.ch) {
		q.rejected.Add(1)
		return false
	}
	if err := q.append(walEntry{Action: walEnqueue, Message: m, Timestamp: time.Now()}, true); err != nil {
		q.rejected.Add(1)
		q.log.Error().Err(err).Msg("wal write failed")
		return false
	}
	q.pending[m.ID] = struct{}{}
	q.written.Add(1)
	q.ch <- m
	return true
}

// Complete marks a message as finished (delivered or abandoned).
func (q *Queue) Complete(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; !ok {
		return
	}
	delete(q.pending, id)
	q.completed.Add(1)
	// Not synced: a crash may redeliver, never lose.
	if err := q.append(walEntry{Action: walComplete, Message: Message{ID: id}, Timestamp: time.Now()}, false); err != nil {
		q.log.Warn().Err(err).Str("id", id).Msg("wal complete write failed")
	}
}

func (q *Queue) append(e walEntry, durable bool) error {
	if q.walFile == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := q.walFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if durable {
		return q.walFile.Sync()
	}
	return nil
}

// C is the consumer side of the queue.
func (q *Queue) C() <-chan Message { return q.ch }

// Len returns the number of queued, not yet dequeued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Pending returns messages enqueued but not completed, including one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Written:   q.written.Load(),
		Recovered: q.recovered.Load(),
		Completed: q.completed.Load(),
		Rejected:  q.rejected.Load(),
	}
}

// Close stops accepting messages and closes the WAL. Pending entries stay in the WAL.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.walFile == nil {
		return nil
	}
	_ = q.walFile.Sync()
	return q.walFile.Close()
}
