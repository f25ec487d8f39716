// Package resilience holds the retry loop used for optimistic-concurrency
// restarts, the circuit breaker wrapped around the ledger database, and the
// request bulkhead.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff     time.Duration
	MaxConcurrency int
	// ShouldRetry decides whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation. Errors rejected by ShouldRetry are
// returned immediately.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, lastErr)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg.InitialBackoff, cfg.MaxBackoff, attempt)):
			}
		}
	}
	return lastErr
}

// backoff doubles initial per attempt and adds up to 50% jitter.
func backoff(initial, ceiling time.Duration, attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt))) * initial
	if ceiling > 0 && (base > ceiling || base < 0) {
		base = ceiling
	}
	if base/2 > 0 {
		base += time.Duration(rand.Int63n(int64(base / 2)))
	}
	if ceiling > 0 && base > ceiling {
		base = ceiling
	}
	return base
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
// Domain rejections (not found, insufficient funds, version conflicts...)
// count as successes so they never open the breaker.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsBusinessError(err) || errors.Is(err, context.Canceled)
		},
	})
}

// Execute runs fn through cb and translates an open breaker into
// *domain.ErrCircuitOpen.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &domain.ErrCircuitOpen{Service: cb.Name()}
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// ErrBulkheadFull is returned when no slot frees up within the allowed wait.
var ErrBulkheadFull = errors.New("bulkhead: no free slot")

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireWithin waits at most wait for a slot. It returns ErrBulkheadFull on
// timeout and ctx.Err() when ctx ends first. A zero wait only takes a free slot.
func (b *Bulkhead) AcquireWithin(ctx context.Context, wait time.Duration) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}
	if wait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// InFlight returns the number of held slots.
func (b *Bulkhead) InFlight() int {
	return len(b.sem)
}
