package validate

import (
	"sync"
	"time"

	"scribe/api/internal/content"
)

const DefaultWindow = 500 * time.Millisecond

// Debouncer runs validation at most once per window after the last change.
// A newer Trigger inside the window cancels and reschedules the pending run,
// which then validates the latest inputs.
type Debouncer struct {
	window time.Duration
	fn     func(text string, citations []content.Citation)

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    *content.Snapshot
	stopped    bool
}

func NewDebouncer(window time.Duration, fn func(text string, citations []content.Citation)) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window, fn: fn}
}

func (d *Debouncer) Trigger(text string, citations []content.Citation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	snap := content.NewSnapshot(text, citations)
	d.pending = &snap
	d.generation++
	gen := d.generation
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

// fire runs only if no newer Trigger happened since it was scheduled; a timer
// that lost the race with Stop is ignored the same way.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.generation || d.pending == nil {
		d.mu.Unlock()
		return
	}
	snap := *d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	d.fn(snap.Content, snap.Citations)
}

// Flush runs a pending validation immediately. It reports whether one ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.pending == nil {
		d.mu.Unlock()
		return false
	}
	snap := *d.pending
	d.pending = nil
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fn(snap.Content, snap.Citations)
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels any pending run; later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
