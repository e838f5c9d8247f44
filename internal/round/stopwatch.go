package round

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Stopwatch measures the elapsed time of a round. It can be suspended
// without losing the time already counted.
type Stopwatch struct {
	clock clockwork.Clock

	mu      sync.Mutex
	running bool
	paused  bool
	since   time.Time
	elapsed time.Duration
}

// NewStopwatch returns a stopped stopwatch reading zero.
func NewStopwatch(clock clockwork.Clock) *Stopwatch {
	return &Stopwatch{clock: clock}
}

// Restart zeroes the stopwatch and starts it.
func (w *Stopwatch) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	w.paused = false
	w.elapsed = 0
	w.since = w.clock.Now()
}

// PauseResume toggles suspension. It does nothing while stopped.
func (w *Stopwatch) PauseResume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	now := w.clock.Now()
	if w.paused {
		w.since = now
	} else {
		w.elapsed += now.Sub(w.since)
	}
	w.paused = !w.paused
}

// Reset stops the stopwatch and zeroes it.
func (w *Stopwatch) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.paused = false
	w.elapsed = 0
}

// Elapsed returns the counted time.
func (w *Stopwatch) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && !w.paused {
		return w.elapsed + w.clock.Since(w.since)
	}
	return w.elapsed
}

// Running reports whether the stopwatch is started, suspended or not.
func (w *Stopwatch) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Paused reports whether the stopwatch is suspended.
func (w *Stopwatch) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Format renders d as mm:ss.cc.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Milliseconds() / 10
	return fmt.Sprintf("%02d:%02d.%02d", cs/6000, (cs/100)%60, cs%100)
}
