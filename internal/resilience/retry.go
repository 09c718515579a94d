package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff.
type Policy struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Jitter is a fraction of the computed delay, e.g. 0.25 for ±25%.
	Jitter float64

	// Retryable defaults to IsTransient.
	Retryable func(error) bool
	// Sleep defaults to a context-aware timer. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked before each backoff.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy suits vendor API calls.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.25}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx ends. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := RetryVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryVal is Retry for functions returning a value.
func RetryVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if serr := p.Sleep(ctx, p.Backoff(attempt)); serr != nil {
			return zero, err
		}
	}
	return zero, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogRetry returns an OnRetry hook that logs through zap.
func LogRetry(service, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
