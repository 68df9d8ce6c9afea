package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestBreakerLifecycle(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var transitions []string
	b := New("telegram", 3, time.Minute, WithClock(c.now), OnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)

	c.t = c.t.Add(time.Minute)
	assert.True(t, b.Allow(), "trial call admitted after cooldown")
	assert.False(t, b.Allow(), "only one trial call at a time")
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	c.t = c.t.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"CLOSED>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>CLOSED",
	}, transitions)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := New("x", 2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}
