package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// gate applies one capability's call policy: throttle, cap in-flight calls,
// bound each attempt and retry transient failures with backoff.
type gate struct {
	op      string
	policy  common.CallPolicy
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	jitter  func(time.Duration) time.Duration
	logger  *slog.Logger
}

func newGate(op string, p common.CallPolicy, logger *slog.Logger) *gate {
	g := &gate{op: op, policy: p, jitter: fullJitter, logger: logger}
	if g.policy.MaxAttempts < 1 {
		g.policy.MaxAttempts = 1
	}
	if p.RatePerSecond > 0 {
		burst := p.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
	}
	if p.MaxInFlight > 0 {
		g.sem = semaphore.NewWeighted(p.MaxInFlight)
	}
	return g
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// backoff returns the ceiling for the sleep after the given 1-based attempt.
func (g *gate) backoff(attempt int) time.Duration {
	d := g.policy.BaseDelay
	for i := 1; i < attempt && d < g.policy.MaxDelay; i++ {
		d *= 2
	}
	if g.policy.MaxDelay > 0 && d > g.policy.MaxDelay {
		d = g.policy.MaxDelay
	}
	return d
}

func (g *gate) acquire(ctx context.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (g *gate) release() {
	if g.sem != nil {
		g.sem.Release(1)
	}
}

// do runs fn until it succeeds, fails permanently, or runs out of attempts.
func (g *gate) do(ctx context.Context, providerName string, fn func(ctx context.Context) error) error {
	var last error
	attempt := 0
	for attempt < g.policy.MaxAttempts {
		attempt++
		if err := g.acquire(ctx); err != nil {
			return g.giveUp(ctx, providerName, attempt-1, err)
		}

		attemptCtx, cancel := g.attemptContext(ctx)
		start := time.Now()
		err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		g.release()

		if err == nil {
			return nil
		}
		if timedOut {
			err = &TimeoutError{Op: g.op, Provider: providerName, Timeout: g.policy.Timeout}
		}
		last = err
		if ctx.Err() != nil {
			return g.giveUp(ctx, providerName, attempt, ctx.Err())
		}
		if !IsTransient(err) || attempt == g.policy.MaxAttempts {
			break
		}

		delay := g.jitter(g.backoff(attempt))
		g.logger.Warn("provider."+g.op+".retry",
			"provider", providerName,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return g.giveUp(ctx, providerName, attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return &Error{Op: g.op, Provider: providerName, Attempts: attempt, Err: last}
}

func (g *gate) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.policy.Timeout > 0 {
		return context.WithTimeout(ctx, g.policy.Timeout)
	}
	return context.WithCancel(ctx)
}

func (g *gate) giveUp(ctx context.Context, providerName string, attempts int, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Op: g.op, Provider: providerName, Timeout: g.policy.Timeout}
	}
	return &Error{Op: g.op, Provider: providerName, Attempts: attempts, Err: err}
}
