// Package autosave persists a draft's working copy on an interval and on
// demand, with at most one save in flight at a time.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"scribe/api/internal/content"
	"scribe/api/internal/logger"
	"scribe/api/internal/metrics"
)

// DefaultInterval is how often a dirty draft is flushed. Save timeouts are
// left to the Persister.
const DefaultInterval = 5 * time.Second

type State string

const (
	StateClean  State = "clean"
	StateDirty  State = "dirty"
	StateSaving State = "saving"
)

const (
	triggerInterval = "interval"
	triggerManual   = "manual"
)

var ErrClosed = errors.New("autosave coordinator closed")

type Payload struct {
	Content   string             `json:"content"`
	Citations []content.Citation `json:"citations"`
}

type Persister interface {
	Save(ctx context.Context, draftID string, payload Payload) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, draftID string, payload Payload) error

func (f PersisterFunc) Save(ctx context.Context, draftID string, payload Payload) error {
	return f(ctx, draftID, payload)
}

type Status struct {
	State        State     `json:"state"`
	LastModified time.Time `json:"lastModified"`
	LastSaved    time.Time `json:"lastSaved"`
	LastError    string    `json:"lastError,omitempty"`
}

type Options struct {
	Interval time.Duration
	// OnSuccess and OnFailure run on the saving goroutine after the state
	// has been updated, without the coordinator lock held.
	OnSuccess func(Status)
	OnFailure func(error)
	Now       func() time.Time
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

type Coordinator struct {
	draftID   string
	persister Persister
	source    func() Payload
	opts      Options
	log       *logger.Logger

	mu           sync.Mutex
	state        State
	dirtyAgain   bool
	done         chan struct{}
	lastModified time.Time
	lastSaved    time.Time
	lastErr      error
	started      bool
	closed       bool
	stop         chan struct{}
}

// New returns a clean coordinator. source is called once per save, outside
// the coordinator lock, to snapshot what should be written.
func New(draftID string, persister Persister, source func() Payload, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		draftID:   draftID,
		persister: persister,
		source:    source,
		opts:      opts,
		log:       log.Component("autosave").Draft(draftID),
		state:     StateClean,
		stop:      make(chan struct{}),
	}
}

// MarkDirty records an edit. An edit during a save leaves the coordinator
// dirty once that save finishes.
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastModified = c.opts.Now()
	if c.state == StateSaving {
		c.dirtyAgain = true
		return
	}
	c.state = StateDirty
}

// Start launches the interval loop. Calling it twice is harmless.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Tick is one interval firing: it saves only if there are unsaved edits and
// nothing is already in flight.
func (c *Coordinator) Tick() bool {
	started, _ := c.flush(context.Background(), triggerInterval)
	return started
}

// SaveNow saves regardless of whether there are unsaved edits. It reports
// false without saving when a save is already in flight. Cancelling ctx does
// not abort a save that has started.
func (c *Coordinator) SaveNow(ctx context.Context) (bool, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	return c.flush(context.WithoutCancel(ctx), triggerManual)
}

func (c *Coordinator) flush(ctx context.Context, trigger string) (bool, error) {
	c.mu.Lock()
	if c.state == StateSaving {
		c.mu.Unlock()
		return false, nil
	}
	if trigger == triggerInterval && (c.state != StateDirty || c.closed) {
		c.mu.Unlock()
		return false, nil
	}
	c.state = StateSaving
	c.dirtyAgain = false
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	payload := c.source()
	start := c.opts.Now()
	err := c.persister.Save(ctx, c.draftID, payload)
	c.opts.Metrics.RecordSave(trigger, err, c.opts.Now().Sub(start))

	c.mu.Lock()
	if err != nil {
		c.state = StateDirty
		c.lastErr = err
	} else {
		c.lastErr = nil
		c.lastSaved = c.opts.Now()
		c.state = StateClean
		if c.dirtyAgain {
			c.state = StateDirty
		}
	}
	c.dirtyAgain = false
	c.done = nil
	close(done)
	status := c.statusLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Str("trigger", trigger).Msg("save failed")
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(err)
		}
		return true, err
	}
	c.log.Debug().Str("trigger", trigger).Str("state", string(status.State)).Msg("saved")
	if c.opts.OnSuccess != nil {
		c.opts.OnSuccess(status)
	}
	return true, nil
}

// Wait blocks until the in-flight save, if any, has finished.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the interval loop. An in-flight save is left to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
}

// Pending reports edits that neither a finished nor an in-flight save covers.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDirty || (c.state == StateSaving && c.dirtyAgain)
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	status := Status{
		State:        c.state,
		LastModified: c.lastModified,
		LastSaved:    c.lastSaved,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}
