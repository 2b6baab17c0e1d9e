package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
)

type finalizeRecorder struct {
	calls   atomic.Int32
	mu      sync.Mutex
	reasons []domain.SubmitReason
}

func (r *finalizeRecorder) finalize(_ context.Context, reason domain.SubmitReason) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	return nil
}

func (r *finalizeRecorder) lastReason() domain.SubmitReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return ""
	}
	return r.reasons[len(r.reasons)-1]
}

func waitDone(t *testing.T, c *app.Countdown) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("countdown did not finish, state %s", c.State())
	}
}

func TestCountdownExpiresOnTick(t *testing.T) {
	clock := newClock()
	rec := &finalizeRecorder{}
	var ticks atomic.Int32
	c := app.NewCountdown(clock.Now().Add(3*time.Second), rec.finalize,
		app.WithClock(clock.Now),
		app.WithInterval(5*time.Millisecond),
		app.WithTickHandler(func(time.Duration) { ticks.Add(1) }),
	)

	c.Start(context.Background())
	assert.Equal(t, app.CountdownRunning, c.State())
	assert.Equal(t, 3*time.Second, c.Remaining())

	clock.Advance(4 * time.Second)
	waitDone(t, c)

	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Equal(t, domain.ReasonTimeExpired, rec.lastReason())
	assert.Equal(t, app.CountdownFinalizing, c.State())
	assert.GreaterOrEqual(t, ticks.Load(), int32(1))
	assert.NoError(t, c.Err())
}

func TestCountdownStartWithoutTimeLeftExpiresImmediately(t *testing.T) {
	clock := newClock()
	rec := &finalizeRecorder{}
	c := app.NewCountdown(clock.Now().Add(-time.Second), rec.finalize, app.WithClock(clock.Now))

	c.Start(context.Background())
	waitDone(t, c)

	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Equal(t, domain.ReasonTimeExpired, rec.lastReason())
}

func TestCountdownSubmitFinalizesOnce(t *testing.T) {
	clock := newClock()
	rec := &finalizeRecorder{}
	c := app.NewCountdown(clock.Now().Add(time.Minute), rec.finalize, app.WithClock(clock.Now), app.WithInterval(5*time.Millisecond))
	c.Start(context.Background())

	require.NoError(t, c.Submit(context.Background(), domain.ReasonMaxTabSwitches))
	require.NoError(t, c.Submit(context.Background(), domain.ReasonManual))

	clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Equal(t, domain.ReasonMaxTabSwitches, rec.lastReason())
}

func TestCountdownStopDoesNotFinalize(t *testing.T) {
	clock := newClock()
	rec := &finalizeRecorder{}
	c := app.NewCountdown(clock.Now().Add(time.Minute), rec.finalize, app.WithClock(clock.Now), app.WithInterval(5*time.Millisecond))
	c.Start(context.Background())

	c.Stop()
	waitDone(t, c)
	clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, app.CountdownStopped, c.State())
	assert.Equal(t, int32(0), rec.calls.Load())
}

func TestCountdownRemainingTruncatesToSeconds(t *testing.T) {
	clock := newClock()
	c := app.NewCountdown(clock.Now().Add(1500*time.Millisecond), nil, app.WithClock(clock.Now))

	assert.Equal(t, time.Second, c.Remaining())
	clock.Advance(time.Hour)
	assert.Equal(t, time.Duration(0), c.Remaining())
}

func TestAttemptCountdownFinalizesAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempt, err := f.manager.Start(ctx, "alice", domain.ModePre, defaultSettings)
	require.NoError(t, err)
	require.NoError(t, attempt.RecordAnswer(ctx, 2, 2))

	c := app.NewAttemptCountdown(attempt, app.WithInterval(5*time.Millisecond))
	c.Start(ctx)
	assert.Equal(t, 1200*time.Second, c.Remaining())

	f.clock.Advance(1201 * time.Second)
	waitDone(t, c)
	require.NoError(t, c.Err())

	rec := f.stored(t, attempt.Key())
	require.True(t, rec.Completed())
	assert.Equal(t, domain.ReasonTimeExpired, rec.AutoSubmitReason)
	assert.Equal(t, 1, rec.CorrectCount)
}

func TestCountdownWaitsForExactDeadline(t *testing.T) {
	clock := newClock()
	rec := &finalizeRecorder{}
	var lastTick atomic.Int64
	c := app.NewCountdown(clock.Now().Add(500*time.Millisecond), rec.finalize,
		app.WithClock(clock.Now),
		app.WithInterval(5*time.Millisecond),
		app.WithTickHandler(func(d time.Duration) { lastTick.Store(int64(d)) }),
	)
	c.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, app.CountdownRunning, c.State())
	assert.Equal(t, int64(0), lastTick.Load())
	assert.Equal(t, int32(0), rec.calls.Load())

	clock.Advance(time.Second)
	waitDone(t, c)
	assert.Equal(t, int32(1), rec.calls.Load())
}
