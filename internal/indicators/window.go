package indicators

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidSample is returned by Push for samples that would break the window invariants.
var ErrInvalidSample = errors.New("indicators: invalid sample")

// Sample is one price/volume observation.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// Window is a fixed-capacity ring buffer of samples, oldest evicted first.
type Window struct {
	buf   []Sample
	start int
	size  int
}

// NewWindow allocates a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]Sample, capacity)}
}

// Push appends s, evicting the oldest sample once the window is full.
// Samples with a non-positive price or a timestamp older than the last sample are rejected.
func (w *Window) Push(s Sample) error {
	if s.Price <= 0 || math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
		return ErrInvalidSample
	}
	if s.Volume < 0 || math.IsNaN(s.Volume) {
		s.Volume = 0
	}
	if last, ok := w.Last(); ok && s.Timestamp.Before(last.Timestamp) {
		return ErrInvalidSample
	}

	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = s
		w.size++
		return nil
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
	return nil
}

// Len reports how many samples are held.
func (w *Window) Len() int { return w.size }


// Last returns the newest sample.
func (w *Window) Last() (Sample, bool) {
	if w.size == 0 {
		return Sample{}, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Samples copies the window contents, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Prices copies the window prices, oldest first.
func (w *Window) Prices() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)].Price
	}
	return out
}

// Volumes copies the window volumes, oldest first.
func (w *Window) Volumes() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)].Volume
	}
	return out
}
