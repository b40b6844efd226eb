// Package history keeps a linear undo/redo stack of content snapshots.
package history

import (
	"time"

	"scribe/api/internal/content"
)

const DefaultMaxDepth = 100

type Options struct {
	// MaxDepth bounds the number of undo steps kept; the oldest are dropped
	// first. Zero means DefaultMaxDepth, negative means unbounded.
	MaxDepth int
	// CoalesceWindow merges consecutive text-only records that arrive within
	// the window into a single undo step. Zero disables coalescing.
	CoalesceWindow time.Duration
	Now            func() time.Time
}

// Manager is not safe for concurrent use; the editor session serializes
// access to it.
type Manager struct {
	past     []content.Snapshot
	present  content.Snapshot
	future   []content.Snapshot
	maxDepth int
	window   time.Duration
	now      func() time.Time

	lastRecord time.Time
	// burst is true while present is the head of a coalescable run.
	burst bool
}

func New(initial content.Snapshot, opts Options) *Manager {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		present:  content.NewSnapshot(initial.Content, initial.Citations),
		maxDepth: maxDepth,
		window:   opts.CoalesceWindow,
		now:      now,
	}
}

// Record makes s the present snapshot and clears the redo stack. A snapshot
// equal to present is ignored and Record returns false.
func (m *Manager) Record(s content.Snapshot) bool {
	if s.Equal(m.present) {
		return false
	}
	next := content.NewSnapshot(s.Content, s.Citations)
	at := m.now()

	if m.coalesces(next, at) {
		m.present = next
		m.future = nil
		m.lastRecord = at
		return true
	}

	m.past = append(m.past, m.present)
	if m.maxDepth > 0 && len(m.past) > m.maxDepth {
		drop := len(m.past) - m.maxDepth
		m.past = append([]content.Snapshot(nil), m.past[drop:]...)
	}
	m.present = next
	m.future = nil
	m.lastRecord = at
	m.burst = m.window > 0 && content.CitationsEqual(m.past[len(m.past)-1].Citations, next.Citations)
	return true
}

// coalesces reports whether next continues the current typing burst: text
// only, same citation list, and inside the window since the last record.
func (m *Manager) coalesces(next content.Snapshot, at time.Time) bool {
	if m.window <= 0 || !m.burst || len(m.past) == 0 {
		return false
	}
	if !content.CitationsEqual(m.present.Citations, next.Citations) {
		return false
	}
	return at.Sub(m.lastRecord) <= m.window
}

// Undo moves present to the front of the redo stack and restores the most
// recent past snapshot. With nothing to undo it returns false.
func (m *Manager) Undo() (content.Snapshot, bool) {
	if len(m.past) == 0 {
		return m.Present(), false
	}
	last := len(m.past) - 1
	m.future = append([]content.Snapshot{m.present}, m.future...)
	m.present = m.past[last]
	m.past = m.past[:last]
	m.burst = false
	return m.Present(), true
}

// Redo is the inverse of Undo.
func (m *Manager) Redo() (content.Snapshot, bool) {
	if len(m.future) == 0 {
		return m.Present(), false
	}
	m.past = append(m.past, m.present)
	m.present = m.future[0]
	m.future = m.future[1:]
	m.burst = false
	return m.Present(), true
}

func (m *Manager) CanUndo() bool { return len(m.past) > 0 }
func (m *Manager) CanRedo() bool { return len(m.future) > 0 }

func (m *Manager) Present() content.Snapshot {
	return content.NewSnapshot(m.present.Content, m.present.Citations)
}

// Depth returns the sizes of the undo and redo stacks.
func (m *Manager) Depth() (past, future int) {
	return len(m.past), len(m.future)
}

// Break ends the current typing burst so the next record starts a new step.
func (m *Manager) Break() {
	m.burst = false
}

// Reset discards all history and starts over from s.
func (m *Manager) Reset(s content.Snapshot) {
	m.past = nil
	m.future = nil
	m.present = content.NewSnapshot(s.Content, s.Citations)
	m.burst = false
	m.lastRecord = time.Time{}
}
