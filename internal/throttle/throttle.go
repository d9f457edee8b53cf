// Package throttle provides a keyed trailing-edge rate limiter: within each
// interval only the most recent value offered for a key is emitted, never a
// burst of every intermediate value. Move, resize and cursor broadcasts run
// through one of these so sixty drag frames a second collapse to one message
// per interval carrying the latest absolute position.
package throttle

import (
	"sync"
	"time"
)

// Throttle coalesces values per key. Emission happens on a timer goroutine;
// the emit func must be safe to call from it.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func(key string, v any)
	pending  map[string]any
	timers   map[string]*time.Timer
	stopped  bool
}

// New returns a throttle that emits at most one value per key per interval.
func New(interval time.Duration, emit func(key string, v any)) *Throttle {
	return &Throttle{
		interval: interval,
		emit:     emit,
		pending:  make(map[string]any),
		timers:   make(map[string]*time.Timer),
	}
}

// Offer stores v as the latest value for key. The first offer in a quiet
// window arms the key's timer; later offers within the window just replace the
// pending value, so the timer fires with the last one seen.
func (t *Throttle) Offer(key string, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending[key] = v
	if _, armed := t.timers[key]; armed {
		return
	}
	t.timers[key] = time.AfterFunc(t.interval, func() {
		t.fire(key)
	})
}

func (t *Throttle) fire(key string) {
	t.mu.Lock()
	v, ok := t.pending[key]
	delete(t.pending, key)
	delete(t.timers, key)
	t.mu.Unlock()
	if ok {
		t.emit(key, v)
	}
}

// Flush emits every pending value immediately and disarms their timers. Used
// on gesture release and shutdown so the final position is never lost to an
// in-flight window.
func (t *Throttle) Flush() {
	t.mu.Lock()
	flushed := t.pending
	t.pending = make(map[string]any)
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
	for key, v := range flushed {
		t.emit(key, v)
	}
}

// Stop flushes pending values and rejects further offers.
func (t *Throttle) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.Flush()
}
