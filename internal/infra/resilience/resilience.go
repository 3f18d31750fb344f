// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff, circuit breaker, and bulkhead.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
}

// ErrBulkheadFull is returned by TryAcquire when no slot is free.
var ErrBulkheadFull = errors.New("bulkhead full")

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation.
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

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffFor(attempt, cfg.InitialBackoff)):
			}
		}
	}
	return lastErr
}

func backoffFor(attempt int, initial time.Duration) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * initial
	if half := int64(backoff / 2); half > 0 {
		backoff += time.Duration(rand.Int64N(half))
	}
	return backoff
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(breakerSettings(name))
}

// NewLoggedCircuitBreaker is NewCircuitBreaker plus a log line on every state change.
func NewLoggedCircuitBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	st := breakerSettings(name)
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return gobreaker.NewCircuitBreaker(st)
}

func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
// A non-positive value means one slot.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
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

// TryAcquire takes a slot without waiting.
func (b *Bulkhead) TryAcquire() error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
		return ErrBulkheadFull
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// InFlight returns the number of slots currently held.
func (b *Bulkhead) InFlight() int {
	return len(b.sem)
}
