// Package audit appends a JSON-lines trail of every order, fill, exit, gate block and
// bootstrap decision.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types.
const (
	TypeBootstrap   = "bootstrap"
	TypeOrderSubmit = "order_submit"
	TypeOrderFill   = "order_fill"
	TypeOrderError  = "order_error"
	TypeExit        = "exit"
	TypeGateBlock   = "gate_block"
	TypeSessionEnd  = "session_end"
)

// Long alphanumeric runs look like API keys, secrets or tokens.
var secretRe = regexp.MustCompile(`\b[0-9A-Za-z_]{24,}\b`)

// Trail is the audit sink. A nil *Trail discards everything.
type Trail struct {
	mu     sync.Mutex
	log    zerolog.Logger
	now    func() time.Time
	closer io.Closer
}

// Open appends to path, creating parent directories as needed.
func Open(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	t := New(f)
	t.closer = f
	return t, nil
}

// New writes the trail to w.
func New(w io.Writer) *Trail {
	return &Trail{log: zerolog.New(w), now: time.Now}
}

// Record writes {ts, type, payload}. Payload is marshalled to JSON and scrubbed of
// credential-looking strings.
func (t *Trail) Record(typ string, payload any) {
	if t == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	raw = Redact(raw)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Log().Time("ts", t.now()).Str("type", typ).RawJSON("payload", raw).Send()
}

// Redact masks credential-looking tokens in b.
func Redact(b []byte) []byte {
	return secretRe.ReplaceAll(b, []byte("****"))
}

func (t *Trail) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
