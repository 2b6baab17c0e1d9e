package app

import (
	"context"
	"sync"
	"time"

	"prepost-assessment-service/internal/domain"
)

// CountdownState is the state of a Countdown.
type CountdownState int

const (
	CountdownIdle CountdownState = iota
	CountdownRunning
	CountdownExpired
	CountdownFinalizing
	CountdownStopped
)

func (s CountdownState) String() string {
	switch s {
	case CountdownIdle:
		return "idle"
	case CountdownRunning:
		return "running"
	case CountdownExpired:
		return "expired"
	case CountdownFinalizing:
		return "finalizing"
	case CountdownStopped:
		return "stopped"
	}
	return "unknown"
}

// FinalizeFunc is invoked exactly once per Countdown when it leaves Running
// towards Finalizing.
type FinalizeFunc func(ctx context.Context, reason domain.SubmitReason) error

// Countdown drives the time limit of one attempt. Remaining time is always
// deadline - now, where deadline derives from the persisted start instant;
// nothing is accumulated locally. A Countdown owns a single ticker which is
// stopped on every exit transition.
type Countdown struct {
	deadline time.Time
	finalize FinalizeFunc
	onTick   func(remaining time.Duration)
	now      func() time.Time
	interval time.Duration

	mu     sync.Mutex
	state  CountdownState
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// CountdownOption configures a Countdown.
type CountdownOption func(*Countdown)

// WithTickHandler is called on every tick with the remaining time.
func WithTickHandler(fn func(remaining time.Duration)) CountdownOption {
	return func(c *Countdown) { c.onTick = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CountdownOption {
	return func(c *Countdown) { c.now = now }
}

// WithInterval overrides the one second tick.
func WithInterval(d time.Duration) CountdownOption {
	return func(c *Countdown) { c.interval = d }
}

func NewCountdown(deadline time.Time, finalize FinalizeFunc, opts ...CountdownOption) *Countdown {
	c := &Countdown{
		deadline: deadline,
		finalize: finalize,
		now:      time.Now,
		interval: time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAttemptCountdown binds a countdown to an attempt's deadline and Finalize.
func NewAttemptCountdown(a *Attempt, opts ...CountdownOption) *Countdown {
	finalize := func(ctx context.Context, reason domain.SubmitReason) error {
		_, err := a.Finalize(ctx, reason)
		return err
	}
	opts = append([]CountdownOption{WithClock(a.manager.now)}, opts...)
	return NewCountdown(a.Deadline(), finalize, opts...)
}

// Remaining is deadline - now, floored at zero and truncated to whole seconds
// for display. Expiry compares against the exact deadline.
func (c *Countdown) Remaining() time.Duration {
	return remainingUntil(c.deadline, c.now()).Truncate(time.Second)
}

func (c *Countdown) State() CountdownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the countdown has left Running and any finalization
// it triggered has returned.
func (c *Countdown) Done() <-chan struct{} { return c.done }

// Err is the finalization error, if any, once Done is closed.
func (c *Countdown) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Start moves Idle to Running. If no time is left it expires immediately
// instead of starting the ticker.
func (c *Countdown) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != CountdownIdle {
		c.mu.Unlock()
		return
	}
	if remainingUntil(c.deadline, c.now()) <= 0 {
		c.state = CountdownRunning
		c.mu.Unlock()
		c.expire(ctx)
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	c.state = CountdownRunning
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(tickCtx)
}

func (c *Countdown) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			left := remainingUntil(c.deadline, c.now())
			if c.onTick != nil {
				c.onTick(left.Truncate(time.Second))
			}
			if left <= 0 {
				c.expire(ctx)
				return
			}
		}
	}
}

// expire performs Running -> Expired -> Finalizing with reason timeExpired.
func (c *Countdown) expire(ctx context.Context) {
	c.mu.Lock()
	if c.state != CountdownRunning {
		c.mu.Unlock()
		return
	}
	c.state = CountdownExpired
	c.stopTickerLocked()
	c.state = CountdownFinalizing
	c.mu.Unlock()

	c.runFinalize(ctx, domain.ReasonTimeExpired)
}

// Submit cancels the timer and finalizes with reason. It is used for manual
// submission and for auto-submit reasons raised by proctoring. Submitting a
// countdown that already left Running is a no-op.
func (c *Countdown) Submit(ctx context.Context, reason domain.SubmitReason) error {
	c.mu.Lock()
	if c.state != CountdownRunning && c.state != CountdownIdle {
		c.mu.Unlock()
		<-c.done
		return c.Err()
	}
	c.stopTickerLocked()
	c.state = CountdownFinalizing
	c.mu.Unlock()

	c.runFinalize(ctx, reason)
	return c.Err()
}

// Stop cancels the timer without finalizing, e.g. when the client goes away.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CountdownRunning && c.state != CountdownIdle {
		return
	}
	c.stopTickerLocked()
	c.state = CountdownStopped
	close(c.done)
}

func (c *Countdown) stopTickerLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Countdown) runFinalize(ctx context.Context, reason domain.SubmitReason) {
	var err error
	if c.finalize != nil {
		err = c.finalize(context.WithoutCancel(ctx), reason)
	}
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}
