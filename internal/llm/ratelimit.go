package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when no token frees up within the limiter's
// maximum wait.
var ErrRateLimited = errors.New("llm: client rate limit reached")

// rpsLimiter is a lightweight token-bucket limiter that throttles to at most
// R requests per second with an optional burst capacity.
type rpsLimiter struct {
	tokens   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// newRPSLimiter returns nil when rps <= 0; a nil limiter never blocks.
func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	l := &rpsLimiter{
		tokens: make(chan struct{}, burst),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		l.tokens <- struct{}{}
	}

	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case l.tokens <- struct{}{}:
				default:
				}
			case <-l.stopCh:
				return
			}
		}
	}()
	return l
}

// Acquire takes a token, waiting at most maxWait for one. A maxWait <= 0
// never waits.
func (l *rpsLimiter) Acquire(ctx context.Context, maxWait time.Duration) error {
	if l == nil {
		return nil
	}
	select {
	case <-l.tokens:
		return nil
	default:
	}
	if maxWait <= 0 {
		return ErrRateLimited
	}
	t := time.NewTimer(maxWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return context.Canceled
	case <-t.C:
		return ErrRateLimited
	case <-l.tokens:
		return nil
	}
}

// Stop terminates the refill goroutine. It is safe to call more than once.
func (l *rpsLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
}
