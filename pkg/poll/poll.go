// Package poll waits on platform-side asynchrony by re-evaluating a predicate
// on a flat cadence until it holds, fails permanently, or a time budget runs out.
package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/platform"
)

// ErrTimeout is returned when the predicate never held within the budget.
var ErrTimeout = errors.New("poll timed out")

const minInterval = 10 * time.Millisecond

// Predicate observes platform state. It must not mutate it, except where a
// caller documents create-if-absent semantics for the call it wraps.
type Predicate func(ctx context.Context) (bool, error)

// Logger receives one line per failed attempt. *slog.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
}

// Poller re-runs a predicate every Interval until Timeout elapses.
type Poller struct {
	Timeout  time.Duration
	Interval time.Duration
	Logger   Logger
}

// Until is shorthand for Poller{Timeout: timeout, Interval: interval}.Until.
func Until(ctx context.Context, timeout, interval time.Duration, fn Predicate) (bool, error) {
	return Poller{Timeout: timeout, Interval: interval}.Until(ctx, fn)
}

// Until returns (true, nil) the first time fn reports true. Retryable errors
// count as a failed attempt; any other error is returned at once. Once the
// budget is spent it returns false with an error wrapping ErrTimeout. A last
// attempt always runs at the deadline.
func (p Poller) Until(ctx context.Context, fn Predicate) (bool, error) {
	var logger Logger = slog.Default()
	if p.Logger != nil {
		logger = p.Logger
	}
	interval := p.Interval
	if interval < minInterval {
		interval = minInterval
	}

	start := time.Now()
	deadline := start.Add(p.Timeout)
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := fn(ctx)
		switch {
		case err != nil && !IsRetryable(err):
			return false, err
		case err != nil:
			lastErr = err
			logger.Warn("poll attempt failed, retrying", "attempt", attempt, "error", err)
		case ok:
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return false, fmt.Errorf("%w after %s (%d attempts): last error: %v", ErrTimeout, p.Timeout, attempt, lastErr)
			}
			return false, fmt.Errorf("%w after %s (%d attempts)", ErrTimeout, p.Timeout, attempt)
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// IsRetryable reports whether err is a transient failure: throttling and 5xx
// responses, dropped or refused connections, and network timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, platform.ErrTransient) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
